package enhance

import (
	"math"

	"github.com/cjeanneret/coralcam/internal/frame"
)

// Percentiles used by AutoLevels.
const (
	autoLowPercentile  = 0.01
	autoHighPercentile = 0.99
)

// Histogram returns the 256-bin luminance histogram of img
// (Rec. 601 weights, channel order honoured).
func Histogram(img *frame.Buffer) [256]int {
	var hist [256]int
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			r, g, b := img.RGBAt(x, y)
			l := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			hist[clip8(l)]++
		}
	}
	return hist
}

// AutoLevels proposes LowerLimit/UpperLimit from the 1st and 99th percentile
// luminance bins. The result always satisfies upper > lower. It only
// suggests values; callers decide whether to apply or enable them.
func AutoLevels(img *frame.Buffer) (lower, upper int) {
	if img == nil || img.Validate() != nil {
		return 0, 255
	}
	hist := Histogram(img)
	total := float64(img.Width * img.Height)
	lowTarget := math.Max(total*autoLowPercentile, 1)
	highTarget := total * autoHighPercentile

	lower, upper = -1, 255
	cum := 0
	for i, n := range hist {
		cum += n
		if lower < 0 && float64(cum) >= lowTarget {
			lower = i
		}
		if float64(cum) >= highTarget {
			upper = i
			break
		}
	}
	if lower < 0 {
		lower = 0
	}
	if upper <= lower {
		if lower >= 255 {
			lower = 254
		}
		upper = lower + 1
	}
	return lower, upper
}
