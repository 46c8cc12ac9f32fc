package enhance

import (
	"fmt"
	"image"
	"math"
	"runtime"

	"github.com/disintegration/gift"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/coralcam/internal/frame"
)

// Filter parameters for the optional stages.
const (
	bilateralDiameter   = 9    // px, neighbourhood width
	bilateralSigmaColor = 75.0 // range sigma, in summed channel levels
	// Spatial sigma, px. Kept at OpenCV's (9, 75, 75) setting rather than
	// ~9 px; the 4 px radius bounds the reach, so spatial weights stay near flat.
	bilateralSigmaSpace = 75.0

	sharpenSigma  = 2.0
	sharpenAmount = 0.5 // out = (1+amount)*orig - amount*blur
)

// bandRows splits [0, height) into row bands processed concurrently. A
// panic in fn is returned as an error.
func bandRows(height int, fn func(y0, y1 int)) error {
	workers := runtime.GOMAXPROCS(0)
	band := (height + workers*4 - 1) / (workers * 4)
	if band < 8 {
		band = 8
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for y0 := 0; y0 < height; y0 += band {
		y0, y1 := y0, min(y0+band, height)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("rows %d-%d: panic: %v", y0, y1, r)
				}
			}()
			fn(y0, y1)
			return nil
		})
	}
	return g.Wait()
}

func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// bilateral is an edge-preserving smoothing filter. The range weight comes
// from the summed absolute difference over all three channels, so every
// channel of a pixel is averaged with the same weights. Borders replicate.
func bilateral(src *frame.Buffer, diameter int, sigmaColor, sigmaSpace float64) (*frame.Buffer, error) {
	radius := diameter / 2
	w, h := src.Width, src.Height

	type tap struct {
		dx, dy int
		weight float64
	}
	var taps []tap
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d2 := float64(dx*dx + dy*dy)
			if math.Sqrt(d2) > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx, dy, math.Exp(d2 * spaceCoeff)})
		}
	}

	var colorWeight [3*255 + 1]float64
	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	out := src.Clone()
	sp, dp := src.Pix, out.Pix
	err := bandRows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				c := src.Offset(x, y)
				c0, c1, c2 := int(sp[c]), int(sp[c+1]), int(sp[c+2])
				var s0, s1, s2, wsum float64
				for _, t := range taps {
					n := src.Offset(clampIndex(x+t.dx, w), clampIndex(y+t.dy, h))
					n0, n1, n2 := int(sp[n]), int(sp[n+1]), int(sp[n+2])
					wt := t.weight * colorWeight[absInt(n0-c0)+absInt(n1-c1)+absInt(n2-c2)]
					s0 += wt * float64(n0)
					s1 += wt * float64(n1)
					s2 += wt * float64(n2)
					wsum += wt
				}
				dp[c] = clip8(s0 / wsum)
				dp[c+1] = clip8(s1 / wsum)
				dp[c+2] = clip8(s2 / wsum)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// unsharp sharpens with out = (1+amount)*src - amount*gaussian(src).
// Channel order and frame metadata are kept.
func unsharp(src *frame.Buffer, sigma, amount float64) (*frame.Buffer, error) {
	g := gift.New(gift.UnsharpMask(float32(sigma), float32(amount), 0))
	in := src.Image()
	dst := image.NewRGBA(g.Bounds(in.Bounds()))
	g.Draw(dst, in)

	out := src.Clone()
	err := bandRows(src.Height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < src.Width; x++ {
				j := dst.PixOffset(x, y)
				out.SetRGB(x, y, dst.Pix[j], dst.Pix[j+1], dst.Pix[j+2])
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
