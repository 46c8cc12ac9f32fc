package stepper

import (
	"bytes"
	"errors"
	"testing"
)

// fakeUART echoes every write, like the single-wire bus, and then serves
// queued register replies.
type fakeUART struct {
	written [][]byte
	rx      bytes.Buffer
	replies map[uint8]uint32
}

func newFakeUART() *fakeUART {
	return &fakeUART{replies: make(map[uint8]uint32)}
}

func (f *fakeUART) Write(p []byte) (int, error) {
	f.written = append(f.written, append([]byte(nil), p...))
	f.rx.Write(p)
	if len(p) == 4 && p[2]&writeFlag == 0 {
		v := f.replies[p[2]]
		r := []byte{syncByte, replyAddr, p[2], byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v), 0}
		r[7] = crc8(r[:7])
		f.rx.Write(r)
	}
	return len(p), nil
}

func (f *fakeUART) Read(p []byte) (int, error) {
	return f.rx.Read(p)
}

func TestCRC8_KnownDatagrams(t *testing.T) {
	cases := []struct {
		data []byte
		want byte
	}{
		{[]byte{0x05, 0x00, regGCONF}, 0x48},
		{[]byte{0x05, 0x00, regDRVSTATUS}, 0x84},
		{[]byte{0x05, 0x00, regCHOPCONF}, 0xCA},
	}
	for _, tc := range cases {
		if got := crc8(tc.data); got != tc.want {
			t.Errorf("crc8(% x) = 0x%02x, want 0x%02x", tc.data, got, tc.want)
		}
	}
	if got := crc8(nil); got != 0 {
		t.Errorf("crc8(nil) = 0x%02x, want 0", got)
	}
}

func TestWriteDatagram_Layout(t *testing.T) {
	d := writeDatagram(1, regCHOPCONF, 0x15000053)
	want := []byte{0x05, 0x01, 0xEC, 0x15, 0x00, 0x00, 0x53}
	if !bytes.Equal(d[:7], want) {
		t.Errorf("datagram = % x, want % x", d[:7], want)
	}
	if d[7] != crc8(d[:7]) {
		t.Errorf("trailing byte is not the checksum")
	}
}

func TestTMC2209_ReadRegister(t *testing.T) {
	u := newFakeUART()
	u.replies[regDRVSTATUS] = 0x800000C1
	drv := NewTMC2209(u, 0)

	v, err := drv.ReadRegister(regDRVSTATUS)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if v != 0x800000C1 {
		t.Errorf("value = 0x%08x, want 0x800000C1", v)
	}
}

type corruptUART struct{ *fakeUART }

func (c corruptUART) Read(p []byte) (int, error) {
	n, err := c.fakeUART.Read(p)
	if n == 8 {
		p[7] ^= 0xFF
	}
	return n, err
}

func TestTMC2209_ReadRegisterBadCRC(t *testing.T) {
	u := newFakeUART()
	drv := NewTMC2209(corruptUART{u}, 0)
	if _, err := drv.ReadRegister(regDRVSTATUS); err == nil {
		t.Fatal("expected crc error")
	}
}

func TestTMC2209_Configure(t *testing.T) {
	u := newFakeUART()
	drv := NewTMC2209(u, 0)

	err := drv.Configure(DriverConfig{
		RunCurrentMA:  300,
		Microstepping: 8,
		Interpolation: true,
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if len(u.written) != 3 {
		t.Fatalf("wrote %d datagrams, want 3", len(u.written))
	}

	value := func(d []byte) uint32 {
		return uint32(d[3])<<24 | uint32(d[4])<<16 | uint32(d[5])<<8 | uint32(d[6])
	}

	gconf := u.written[0]
	if gconf[2] != regGCONF|writeFlag {
		t.Errorf("first register = 0x%02x, want GCONF", gconf[2])
	}
	if v := value(gconf); v&gconfSpreadCycle != 0 || v&gconfPdnDisable == 0 || v&gconfMstepRegSelect == 0 {
		t.Errorf("GCONF = 0x%08x: want stealthChop, pdn_disable, mstep_reg_select", v)
	}

	// 300 mA with 0.11 ohm sense resistors needs the high-sensitivity range: CS=8.
	irun := value(u.written[1])
	if got := (irun >> 8) & 0x1F; got != 8 {
		t.Errorf("IRUN = %d, want 8", got)
	}
	if got := irun & 0x1F; got != 4 {
		t.Errorf("IHOLD = %d, want 4", got)
	}

	chop := value(u.written[2])
	if got := (chop >> chopconfMres) & 0x0F; got != 5 {
		t.Errorf("MRES = %d, want 5 (8 microsteps)", got)
	}
	if chop&chopconfIntpol == 0 || chop&chopconfVsense == 0 {
		t.Errorf("CHOPCONF = 0x%08x: want intpol and vsense", chop)
	}
}

func TestTMC2209_ConfigureRejectsMicrostepping(t *testing.T) {
	drv := NewTMC2209(newFakeUART(), 0)
	if err := drv.Configure(DriverConfig{RunCurrentMA: 300, Microstepping: 6}); err == nil {
		t.Fatal("expected error for 6 microsteps")
	}
}

func TestTMC2209_CheckStatus(t *testing.T) {
	cases := []struct {
		name   string
		status uint32
		fault  bool
	}{
		{"standstill", statusStst, false},
		{"open_load_warning", statusOLA | statusOLB, false},
		{"prewarning", statusOTPW, false},
		{"overtemperature", statusOT, true},
		{"short_to_ground", statusS2GB, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := newFakeUART()
			u.replies[regDRVSTATUS] = tc.status
			err := NewTMC2209(u, 0).CheckStatus()
			if got := errors.Is(err, ErrDriverFault); got != tc.fault {
				t.Errorf("fault = %v (err %v), want %v", got, err, tc.fault)
			}
		})
	}
}

func TestCurrentScale(t *testing.T) {
	cases := []struct {
		ma     int
		cs     int
		vsense bool
	}{
		{300, 8, true},
		{800, 25, true},
		{2000, 31, false},
	}
	for _, tc := range cases {
		cs, vsense := currentScale(tc.ma, 0.11)
		if cs != tc.cs || vsense != tc.vsense {
			t.Errorf("currentScale(%d) = %d,%v want %d,%v", tc.ma, cs, vsense, tc.cs, tc.vsense)
		}
	}
}
