package frame

import (
	"bufio"
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is an output file format.
type Format string

const (
	JPEG Format = "jpg"
	PNG  Format = "png"
)

// DefaultJPEGQuality is used when an Encoder has no quality set.
const DefaultJPEGQuality = 95

// ParseFormat accepts "jpg", "jpeg" or "png" (case-insensitive).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "jpg", "jpeg":
		return JPEG, nil
	case "png":
		return PNG, nil
	default:
		return "", fmt.Errorf("unsupported image format %q", s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	return string(f)
}

// FileName returns "{base}_{index:03d}_cam{cameraID}.{ext}".
func FileName(base string, index, cameraID int, ext string) string {
	return fmt.Sprintf("%s_%03d_cam%d.%s", base, index, cameraID, ext)
}

// Encoder writes buffers in a fixed format.
type Encoder struct {
	Format      Format
	JPEGQuality int
}

// Encode writes b to w.
func (e Encoder) Encode(w io.Writer, b *Buffer) error {
	if err := b.Validate(); err != nil {
		return err
	}
	img := b.Image()
	switch e.Format {
	case PNG:
		return png.Encode(w, img)
	case JPEG, "":
		q := e.JPEGQuality
		if q <= 0 || q > 100 {
			q = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	default:
		return fmt.Errorf("unsupported image format %q", e.Format)
	}
}

// WriteFile encodes b into path. The file is written to a temporary name in
// the same directory and renamed, so a failed capture never leaves a
// truncated image behind.
func (e Encoder) WriteFile(path string, b *Buffer) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = e.Encode(bw, b); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
