package enhance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/coralcam/internal/frame"
)

// grey builds a 1-row buffer with one grey pixel per value.
func grey(values ...uint8) *frame.Buffer {
	b := frame.New(len(values), 1, frame.RGB)
	for x, v := range values {
		b.SetRGB(x, 0, v, v, v)
	}
	return b
}

func enabled() Settings {
	s := DefaultSettings()
	s.Enabled = true
	return s
}

func channel(b *frame.Buffer, x int) uint8 {
	r, _, _ := b.RGBAt(x, 0)
	return r
}

func TestApply_DisabledIsIdentity(t *testing.T) {
	img := frame.New(4, 3, frame.BGR)
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	before := append([]uint8(nil), img.Pix...)

	s := DefaultSettings()
	s.Gamma = 2.2
	s.Denoise = true

	out := img
	for i := 0; i < 3; i++ {
		var err error
		out, err = Apply(out, s)
		require.NoError(t, err)
		assert.Same(t, img, out, "disabled pipeline must return the input buffer")
	}
	assert.Equal(t, before, img.Pix)
}

func TestApply_NeutralStagesKeepValues(t *testing.T) {
	img := grey(0, 1, 64, 127, 128, 254, 255)
	out, err := Apply(img, enabled())
	require.NoError(t, err)
	assert.NotSame(t, img, out)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestApply_LevelsStretch(t *testing.T) {
	s := enabled()
	s.LowerLimit = 50
	s.UpperLimit = 200

	out, err := Apply(grey(0, 50, 125, 200, 255), s)
	require.NoError(t, err)

	assert.Equal(t, uint8(0), channel(out, 0), "below lower clips to 0")
	assert.Equal(t, uint8(0), channel(out, 1), "lower maps to 0")
	assert.Equal(t, uint8(128), channel(out, 2), "midpoint 127.5 rounds to 128")
	assert.Equal(t, uint8(255), channel(out, 3), "upper maps to 255")
	assert.Equal(t, uint8(255), channel(out, 4), "above upper clips to 255")
}

func TestApply_LevelsSkippedWhenInverted(t *testing.T) {
	s := enabled()
	s.LowerLimit = 200
	s.UpperLimit = 100

	img := grey(10, 150, 240)
	out, err := Apply(img, s)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestApply_Gamma(t *testing.T) {
	s := enabled()
	s.Gamma = 2.0

	out, err := Apply(grey(0, 128, 255), s)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), channel(out, 0))
	assert.Greater(t, channel(out, 1), uint8(128), "gamma 2 must brighten mid-grey")
	want := uint8(math.Round(math.Pow(128.0/255, 0.5) * 255))
	assert.Equal(t, want, channel(out, 1))
	assert.Equal(t, uint8(255), channel(out, 2))
}

func TestApply_ContrastAndBrightness(t *testing.T) {
	s := enabled()
	s.Contrast = 2.0
	out, err := Apply(grey(100, 127, 200), s)
	require.NoError(t, err)
	assert.Equal(t, uint8(73), channel(out, 0))  // (100-127.5)*2+127.5 = 72.5
	assert.Equal(t, uint8(127), channel(out, 1)) // 126.5 rounds to 127
	assert.Equal(t, uint8(255), channel(out, 2)) // clipped

	s = enabled()
	s.Brightness = -20
	out, err = Apply(grey(10, 100), s)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), channel(out, 0))
	assert.Equal(t, uint8(80), channel(out, 1))
}

func TestApply_BlackBackgroundRemoval(t *testing.T) {
	s := enabled()
	s.RemoveBlackBackground = true
	s.BlackThreshold = 20

	img := frame.New(3, 1, frame.RGB)
	img.SetRGB(0, 0, 10, 20, 5)  // all <= threshold: removed
	img.SetRGB(1, 0, 10, 30, 10) // one channel above: kept
	img.SetRGB(2, 0, 200, 150, 90)

	out, err := Apply(img, s)
	require.NoError(t, err)

	r, g, b := out.RGBAt(0, 0)
	assert.Equal(t, [3]uint8{0, 0, 0}, [3]uint8{r, g, b})
	r, g, b = out.RGBAt(1, 0)
	assert.Equal(t, [3]uint8{10, 30, 10}, [3]uint8{r, g, b})
	r, g, b = out.RGBAt(2, 0)
	assert.Equal(t, [3]uint8{200, 150, 90}, [3]uint8{r, g, b})
}

func TestApply_StagesRunInOrder(t *testing.T) {
	// Black removal happens before brightness, so removed pixels are lifted
	// by the brightness offset like any other zero.
	s := enabled()
	s.RemoveBlackBackground = true
	s.BlackThreshold = 30
	s.LowerLimit = 20
	s.UpperLimit = 220
	s.Brightness = 5

	out, err := Apply(grey(25, 220), s)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), channel(out, 0))
	assert.Equal(t, uint8(255), channel(out, 1))
}

func TestApply_ChannelsTransformedConsistently(t *testing.T) {
	s := enabled()
	s.LowerLimit = 30
	s.UpperLimit = 180
	s.Gamma = 1.8
	s.Contrast = 1.3
	s.Brightness = 7

	img := grey(15, 60, 90, 170)
	img.Order = frame.BGR
	out, err := Apply(img, s)
	require.NoError(t, err)
	for x := 0; x < out.Width; x++ {
		r, g, b := out.RGBAt(x, 0)
		assert.True(t, r == g && g == b, "pixel %d lost greyness: (%d,%d,%d)", x, r, g, b)
	}
	assert.Equal(t, frame.BGR, out.Order)
}

func TestApply_InvalidSettingsFallsBack(t *testing.T) {
	s := enabled()
	s.Gamma = 0
	img := grey(1, 2, 3)
	out, err := Apply(img, s)
	require.ErrorIs(t, err, ErrInvalidSettings)
	assert.Same(t, img, out)
}

func TestApply_BadBufferFallsBack(t *testing.T) {
	img := &frame.Buffer{Width: 2, Height: 2, Pix: []uint8{1, 2, 3}}
	out, err := Apply(img, enabled())
	require.Error(t, err)
	assert.Same(t, img, out)
}

func TestApply_KeepsMetadata(t *testing.T) {
	img := grey(1, 2)
	img.CameraID = 1
	s := enabled()
	s.Brightness = 1
	out, err := Apply(img, s)
	require.NoError(t, err)
	assert.Equal(t, 1, out.CameraID)
}

func TestSettings_Validate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Settings)
		ok   bool
	}{
		{"defaults", func(*Settings) {}, true},
		{"threshold_high", func(s *Settings) { s.BlackThreshold = 256 }, false},
		{"lower_255", func(s *Settings) { s.LowerLimit = 255 }, false},
		{"upper_zero", func(s *Settings) { s.UpperLimit = 0 }, false},
		{"gamma_negative", func(s *Settings) { s.Gamma = -1 }, false},
		{"gamma_nan", func(s *Settings) { s.Gamma = math.NaN() }, false},
		{"contrast_inf", func(s *Settings) { s.Contrast = math.Inf(1) }, false},
		{"brightness_low", func(s *Settings) { s.Brightness = -256 }, false},
		{"brightness_edge", func(s *Settings) { s.Brightness = 255 }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mod(&s)
			err := s.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			}
		})
	}
}

func TestSettings_MergeLeavesUnspecifiedFields(t *testing.T) {
	s := DefaultSettings()
	s.Denoise = true
	gamma := 1.6
	on := true

	got := s.Merge(Patch{Gamma: &gamma, Enabled: &on})

	assert.True(t, got.Enabled)
	assert.Equal(t, 1.6, got.Gamma)
	assert.True(t, got.Denoise, "unspecified field changed")
	assert.Equal(t, s.UpperLimit, got.UpperLimit)
	assert.Equal(t, s, s.Merge(Patch{}))
}
