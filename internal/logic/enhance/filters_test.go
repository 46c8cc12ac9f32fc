package enhance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/coralcam/internal/frame"
)

func uniform(w, h int, v uint8) *frame.Buffer {
	b := frame.New(w, h, frame.RGB)
	for i := range b.Pix {
		b.Pix[i] = v
	}
	return b
}

func TestDenoise_UniformUnchanged(t *testing.T) {
	s := enabled()
	s.Denoise = true
	img := uniform(20, 17, 90)
	out, err := Apply(img, s)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestDenoise_SmoothsImpulse(t *testing.T) {
	s := enabled()
	s.Denoise = true
	img := uniform(15, 15, 100)
	img.SetRGB(7, 7, 130, 130, 130)

	out, err := Apply(img, s)
	require.NoError(t, err)

	r, g, b := out.RGBAt(7, 7)
	assert.Less(t, r, uint8(130), "impulse should be pulled toward its neighbours")
	assert.Greater(t, r, uint8(100))
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestDenoise_PreservesStrongEdge(t *testing.T) {
	s := enabled()
	s.Denoise = true
	img := frame.New(16, 8, frame.RGB)
	for y := 0; y < 8; y++ {
		for x := 8; x < 16; x++ {
			img.SetRGB(x, y, 250, 250, 250)
		}
	}
	out, err := Apply(img, s)
	require.NoError(t, err)

	left, _, _ := out.RGBAt(7, 4)
	right, _, _ := out.RGBAt(8, 4)
	assert.LessOrEqual(t, left, uint8(2), "dark side must stay dark across a 250-level edge")
	assert.GreaterOrEqual(t, right, uint8(248))
}

func TestSharpen_UniformUnchanged(t *testing.T) {
	s := enabled()
	s.Sharpen = true
	img := uniform(24, 12, 140)
	out, err := Apply(img, s)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
}

func TestSharpen_IncreasesEdgeContrast(t *testing.T) {
	s := enabled()
	s.Sharpen = true
	img := frame.New(32, 4, frame.RGB)
	for y := 0; y < 4; y++ {
		for x := 0; x < 32; x++ {
			v := uint8(80)
			if x >= 16 {
				v = 160
			}
			img.SetRGB(x, y, v, v, v)
		}
	}
	out, err := Apply(img, s)
	require.NoError(t, err)

	dark, _, _ := out.RGBAt(15, 2)
	bright, _, _ := out.RGBAt(16, 2)
	assert.Less(t, dark, uint8(80), "undershoot on the dark side")
	assert.Greater(t, bright, uint8(160), "overshoot on the bright side")

	far, _, _ := out.RGBAt(0, 2)
	assert.Equal(t, uint8(80), far, "flat region far from the edge is unchanged")
}

func TestSharpen_KeepsOrderAndMetadata(t *testing.T) {
	s := enabled()
	s.Sharpen = true
	ts := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	paint := func(order frame.Order) *frame.Buffer {
		img := frame.New(24, 6, order)
		img.CameraID = 1
		img.Timestamp = ts
		for y := 0; y < 6; y++ {
			for x := 0; x < 24; x++ {
				if x < 12 {
					img.SetRGB(x, y, 200, 40, 10)
				} else {
					img.SetRGB(x, y, 20, 90, 180)
				}
			}
		}
		return img
	}

	rgb, err := Apply(paint(frame.RGB), s)
	require.NoError(t, err)
	bgr, err := Apply(paint(frame.BGR), s)
	require.NoError(t, err)

	assert.Equal(t, frame.BGR, bgr.Order)
	assert.Equal(t, 1, bgr.CameraID)
	assert.True(t, ts.Equal(bgr.Timestamp))
	for y := 0; y < 6; y++ {
		for x := 0; x < 24; x++ {
			r1, g1, b1 := rgb.RGBAt(x, y)
			r2, g2, b2 := bgr.RGBAt(x, y)
			require.Equal(t, [3]uint8{r1, g1, b1}, [3]uint8{r2, g2, b2}, "pixel (%d,%d)", x, y)
		}
	}
	r, _, _ := bgr.RGBAt(11, 3)
	assert.Greater(t, r, uint8(200), "red overshoots on its side of the edge")
}

func TestBandRows_PanicBecomesError(t *testing.T) {
	err := bandRows(64, func(y0, y1 int) {
		if y0 == 0 {
			panic("boom")
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestBandRows_CoversEveryRow(t *testing.T) {
	var mu sync.Mutex
	seen := make([]int, 100)
	require.NoError(t, bandRows(len(seen), func(y0, y1 int) {
		mu.Lock()
		defer mu.Unlock()
		for y := y0; y < y1; y++ {
			seen[y]++
		}
	}))
	for y, n := range seen {
		assert.Equal(t, 1, n, "row %d", y)
	}
}

func TestAutoLevels_Ramp(t *testing.T) {
	img := frame.New(256, 1, frame.RGB)
	for x := 0; x < 256; x++ {
		img.SetRGB(x, 0, uint8(x), uint8(x), uint8(x))
	}
	lower, upper := AutoLevels(img)
	assert.Equal(t, 2, lower)
	assert.Equal(t, 253, upper)
}

func TestAutoLevels_UniformStillOrdered(t *testing.T) {
	lower, upper := AutoLevels(uniform(10, 10, 100))
	assert.Equal(t, 100, lower)
	assert.Equal(t, 101, upper)

	lower, upper = AutoLevels(uniform(4, 4, 255))
	assert.Equal(t, 254, lower)
	assert.Equal(t, 255, upper)
}

func TestAutoLevels_HonoursChannelOrder(t *testing.T) {
	// Pure blue in BGR storage: luminance 0.114*255 = 29.
	img := frame.New(4, 4, frame.BGR)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGB(x, y, 0, 0, 255)
		}
	}
	hist := Histogram(img)
	assert.Equal(t, 16, hist[29])
}

func TestAutoLevels_DoesNotEnable(t *testing.T) {
	s := DefaultSettings()
	lower, upper := AutoLevels(uniform(4, 4, 50))
	lo, hi := lower, upper
	s = s.Merge(Patch{LowerLimit: &lo, UpperLimit: &hi})
	assert.False(t, s.Enabled)
}
