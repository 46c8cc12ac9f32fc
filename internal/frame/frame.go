// Package frame holds the 8-bit, 3-channel pixel buffer that flows from the
// camera devices through enhancement to the output files.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

// Order is the channel ordering of a Buffer.
type Order int

const (
	RGB Order = iota
	BGR
)

func (o Order) String() string {
	if o == BGR {
		return "BGR"
	}
	return "RGB"
}

// Channels is the fixed number of interleaved channels per pixel.
const Channels = 3

// ErrBadGeometry is returned when a buffer's dimensions and pixel slice disagree.
var ErrBadGeometry = errors.New("frame: pixel slice does not match width*height*3")

// Buffer is a rectangular H x W x 3 image, 8 bits per channel, rows packed
// without padding. Order records how the channels are laid out.
type Buffer struct {
	Width     int
	Height    int
	Order     Order
	Pix       []uint8
	CameraID  int
	Timestamp time.Time
}

// New allocates a zeroed buffer.
func New(width, height int, order Order) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Order:  order,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// Validate checks that the pixel slice matches the declared geometry.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("frame: nil buffer")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("frame: invalid size %dx%d", b.Width, b.Height)
	}
	if len(b.Pix) != b.Width*b.Height*Channels {
		return ErrBadGeometry
	}
	return nil
}

// Offset returns the index of the first channel of pixel (x, y).
func (b *Buffer) Offset(x, y int) int {
	return (y*b.Width + x) * Channels
}

// RGBAt returns the pixel at (x, y) as red, green, blue regardless of Order.
func (b *Buffer) RGBAt(x, y int) (r, g, bl uint8) {
	i := b.Offset(x, y)
	if b.Order == BGR {
		return b.Pix[i+2], b.Pix[i+1], b.Pix[i]
	}
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2]
}

// SetRGB stores a red, green, blue pixel at (x, y) honouring Order.
func (b *Buffer) SetRGB(x, y int, r, g, bl uint8) {
	i := b.Offset(x, y)
	if b.Order == BGR {
		b.Pix[i], b.Pix[i+1], b.Pix[i+2] = bl, g, r
		return
	}
	b.Pix[i], b.Pix[i+1], b.Pix[i+2] = r, g, bl
}

// Clone returns a deep copy including metadata.
func (b *Buffer) Clone() *Buffer {
	c := *b
	c.Pix = make([]uint8, len(b.Pix))
	copy(c.Pix, b.Pix)
	return &c
}

// Image converts the buffer to an *image.RGBA for encoding or display.
func (b *Buffer) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			r, g, bl := b.RGBAt(x, y)
			j := img.PixOffset(x, y)
			img.Pix[j] = r
			img.Pix[j+1] = g
			img.Pix[j+2] = bl
			img.Pix[j+3] = 0xff
		}
	}
	return img
}

// FromImage copies any image.Image into a new RGB buffer.
func FromImage(img image.Image, cameraID int, ts time.Time) *Buffer {
	bounds := img.Bounds()
	b := New(bounds.Dx(), bounds.Dy(), RGB)
	b.CameraID = cameraID
	b.Timestamp = ts

	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < b.Height; y++ {
			row := rgba.Pix[rgba.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			for x := 0; x < b.Width; x++ {
				i := b.Offset(x, y)
				b.Pix[i], b.Pix[i+1], b.Pix[i+2] = row[x*4], row[x*4+1], row[x*4+2]
			}
		}
		return b
	}

	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			c := color.RGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.RGBA)
			i := b.Offset(x, y)
			b.Pix[i], b.Pix[i+1], b.Pix[i+2] = c.R, c.G, c.B
		}
	}
	return b
}
