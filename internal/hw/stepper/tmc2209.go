package stepper

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/cjeanneret/coralcam/internal/debug"
)

// TMC2209 register addresses.
const (
	regGCONF     = 0x00
	regIHOLDIRUN = 0x10
	regCHOPCONF  = 0x6C
	regDRVSTATUS = 0x6F
)

// GCONF bits.
const (
	gconfInternalRsense = 1 << 1
	gconfSpreadCycle    = 1 << 2
	gconfShaft          = 1 << 3
	gconfPdnDisable     = 1 << 6
	gconfMstepRegSelect = 1 << 7
	gconfMultistepFilt  = 1 << 8
)

// CHOPCONF fields.
const (
	chopconfBase   = 0x00000053 // toff=3, hstrt=5, hend=0
	chopconfVsense = 1 << 17
	chopconfIntpol = 1 << 28
	chopconfMres   = 24
)

// DRV_STATUS flags.
const (
	statusOTPW  = 1 << 0
	statusOT    = 1 << 1
	statusS2GA  = 1 << 2
	statusS2GB  = 1 << 3
	statusS2VSA = 1 << 4
	statusS2VSB = 1 << 5
	statusOLA   = 1 << 6
	statusOLB   = 1 << 7
	statusStst  = 1 << 31
)

const (
	syncByte   = 0x05
	replyAddr  = 0xFF
	writeFlag  = 0x80
	holdDelay  = 10
	senseDrop  = 0.02 // V, added to Rsense in the current formula
	vfsLow     = 0.325
	vfsHigh    = 0.180
	csMinRange = 16
)

// ErrDriverFault reports a driver-side fault flagged in DRV_STATUS.
var ErrDriverFault = errors.New("stepper driver fault")

// DriverConfig holds the TMC2209 settings pushed over UART at start-up.
type DriverConfig struct {
	Address       uint8 // UART slave address, 0-3
	RunCurrentMA  int
	HoldRatio     float64 // hold current as a fraction of run current
	Microstepping int
	Interpolation bool
	SpreadCycle   bool
	InvertShaft   bool
	RsenseOhms    float64
}

// DriverStatus is a decoded DRV_STATUS register.
type DriverStatus uint32

// Faults lists the active fault flags by name.
func (s DriverStatus) Faults() []string {
	var out []string
	for _, f := range []struct {
		bit  DriverStatus
		name string
	}{
		{statusOT, "overtemperature"},
		{statusS2GA, "short to ground A"},
		{statusS2GB, "short to ground B"},
		{statusS2VSA, "short to supply A"},
		{statusS2VSB, "short to supply B"},
	} {
		if s&f.bit != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

// Warnings lists non-fatal flags by name.
func (s DriverStatus) Warnings() []string {
	var out []string
	if s&statusOTPW != 0 {
		out = append(out, "overtemperature pre-warning")
	}
	if s&statusOLA != 0 {
		out = append(out, "open load A")
	}
	if s&statusOLB != 0 {
		out = append(out, "open load B")
	}
	return out
}

// Standstill reports whether the motor is stopped.
func (s DriverStatus) Standstill() bool {
	return s&statusStst != 0
}

// TMC2209 talks to a TMC2209 driver over its single-wire UART. The line
// echoes every transmitted byte, which is read back and discarded.
type TMC2209 struct {
	mu   sync.Mutex
	port io.ReadWriter
	addr uint8
}

// NewTMC2209 wraps an already opened port.
func NewTMC2209(port io.ReadWriter, addr uint8) *TMC2209 {
	return &TMC2209{port: port, addr: addr & 0x03}
}

// OpenTMC2209 opens the serial device and returns the driver link and the
// port to close when done.
func OpenTMC2209(device string, baud int, addr uint8) (*TMC2209, io.Closer, error) {
	p, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", device, err)
	}
	debug.Verbose("TMC2209: UART %s @ %d baud, address %d", device, baud, addr)
	return NewTMC2209(p, addr), p, nil
}

// crc8 is the TMC22xx datagram checksum (polynomial x^8+x^2+x+1, bits
// consumed LSB first).
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc>>7)^(b&0x01) != 0 {
				crc = (crc << 1) ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}

func writeDatagram(addr, reg uint8, value uint32) []byte {
	d := []byte{
		syncByte, addr, reg | writeFlag,
		byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
		0,
	}
	d[7] = crc8(d[:7])
	return d
}

func readDatagram(addr, reg uint8) []byte {
	d := []byte{syncByte, addr, reg, 0}
	d[3] = crc8(d[:3])
	return d
}

func (t *TMC2209) send(d []byte) error {
	debug.UART("tx", d)
	if _, err := t.port.Write(d); err != nil {
		return fmt.Errorf("uart write: %w", err)
	}
	echo := make([]byte, len(d))
	if _, err := io.ReadFull(t.port, echo); err != nil {
		return fmt.Errorf("uart echo: %w", err)
	}
	return nil
}

// WriteRegister writes a 32-bit register.
func (t *TMC2209) WriteRegister(reg uint8, value uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.send(writeDatagram(t.addr, reg, value))
}

// ReadRegister reads a 32-bit register.
func (t *TMC2209) ReadRegister(reg uint8) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.send(readDatagram(t.addr, reg)); err != nil {
		return 0, err
	}
	reply := make([]byte, 8)
	if _, err := io.ReadFull(t.port, reply); err != nil {
		return 0, fmt.Errorf("uart reply: %w", err)
	}
	debug.UART("rx", reply)
	switch {
	case reply[0] != syncByte || reply[1] != replyAddr:
		return 0, fmt.Errorf("uart reply: bad header % x", reply[:2])
	case reply[2] != reg:
		return 0, fmt.Errorf("uart reply: register 0x%02x, want 0x%02x", reply[2], reg)
	case crc8(reply[:7]) != reply[7]:
		return 0, fmt.Errorf("uart reply: crc mismatch")
	}
	return uint32(reply[3])<<24 | uint32(reply[4])<<16 | uint32(reply[5])<<8 | uint32(reply[6]), nil
}

// currentScale returns the CS value (0-31) and vsense flag for a RMS run
// current.
func currentScale(runMA int, rsense float64) (cs int, vsense bool) {
	scale := func(vfs float64) int {
		return int(32*math.Sqrt2*float64(runMA)/1000*(rsense+senseDrop)/vfs - 1)
	}
	cs = scale(vfsLow)
	if cs < csMinRange {
		vsense = true
		cs = scale(vfsHigh)
	}
	return min(max(cs, 0), 31), vsense
}

// mres encodes a microstep resolution (1-256, power of two) for CHOPCONF.
func mres(microsteps int) (uint32, error) {
	for m := uint32(0); m <= 8; m++ {
		if 256>>m == microsteps {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unsupported microstepping %d", microsteps)
}

// Configure pushes cfg to the driver.
func (t *TMC2209) Configure(cfg DriverConfig) error {
	if cfg.RsenseOhms <= 0 {
		cfg.RsenseOhms = 0.11
	}
	if cfg.HoldRatio <= 0 {
		cfg.HoldRatio = 0.5
	}
	m, err := mres(cfg.Microstepping)
	if err != nil {
		return err
	}

	gconf := uint32(gconfPdnDisable | gconfMstepRegSelect | gconfMultistepFilt)
	if cfg.SpreadCycle {
		gconf |= gconfSpreadCycle
	}
	if cfg.InvertShaft {
		gconf |= gconfShaft
	}

	cs, vsense := currentScale(cfg.RunCurrentMA, cfg.RsenseOhms)
	hold := int(float64(cs) * cfg.HoldRatio)
	iholdIrun := uint32(hold&0x1F) | uint32(cs&0x1F)<<8 | uint32(holdDelay&0x0F)<<16

	chop := uint32(chopconfBase) | m<<chopconfMres
	if cfg.Interpolation {
		chop |= chopconfIntpol
	}
	if vsense {
		chop |= chopconfVsense
	}

	debug.Verbose("TMC2209: %d mA -> CS=%d vsense=%v, %d microsteps", cfg.RunCurrentMA, cs, vsense, cfg.Microstepping)

	for _, w := range []struct {
		name string
		reg  uint8
		val  uint32
	}{
		{"GCONF", regGCONF, gconf},
		{"IHOLD_IRUN", regIHOLDIRUN, iholdIrun},
		{"CHOPCONF", regCHOPCONF, chop},
	} {
		if err := t.WriteRegister(w.reg, w.val); err != nil {
			return fmt.Errorf("write %s: %w", w.name, err)
		}
	}
	return nil
}

// Status reads DRV_STATUS.
func (t *TMC2209) Status() (DriverStatus, error) {
	v, err := t.ReadRegister(regDRVSTATUS)
	return DriverStatus(v), err
}

// CheckStatus returns ErrDriverFault when DRV_STATUS flags a fault.
// Warnings are only logged.
func (t *TMC2209) CheckStatus() error {
	st, err := t.Status()
	if err != nil {
		return fmt.Errorf("read driver status: %w", err)
	}
	if w := st.Warnings(); len(w) > 0 {
		debug.Warn("TMC2209: %s", strings.Join(w, ", "))
	}
	if f := st.Faults(); len(f) > 0 {
		return fmt.Errorf("%w: %s", ErrDriverFault, strings.Join(f, ", "))
	}
	return nil
}
