// Package imageio decodes uploaded scans and encodes rendered overlays. It is
// the file-facing edge around the pipeline, which itself only sees decoded
// buffers.
package imageio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrTooLarge        = errors.New("image exceeds upload limit")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrNotGrayscale    = errors.New("image does not look like a grayscale scan")
)

// AllowedTypes are the MIME types Decode accepts
var AllowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/webp": true,
}

// DefaultMaxPixels is the decoded size limit used when Limits.MaxPixels is unset
const DefaultMaxPixels = 4096 * 4096

// Limits bounds what Decode will accept
type Limits struct {
	MaxBytes int64
	// MaxPixels caps width*height as declared in the image header. Zero means
	// DefaultMaxPixels; a compressed file can declare far more than it holds.
	MaxPixels int
	// MinGrayscale is the minimum share of near-gray pixels; zero disables the check
	MinGrayscale float64
}

// Decoded is an image plus the metadata the pipeline uses as hints
type Decoded struct {
	Image     image.Image
	Format    string
	MIMEType  string
	SizeBytes int64
}

// Decode validates size and type, then decodes data
func Decode(data []byte, limits Limits) (*Decoded, error) {
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), limits.MaxBytes)
	}
	mime := http.DetectContentType(data)
	if !AllowedTypes[mime] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", mime, err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height, limits.MaxPixels); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mime, err)
	}
	if limits.MinGrayscale > 0 {
		if ratio := GrayscaleRatio(img, 10); ratio < limits.MinGrayscale {
			return nil, fmt.Errorf("%w: %.2f gray", ErrNotGrayscale, ratio)
		}
	}
	return &Decoded{Image: img, Format: format, MIMEType: mime, SizeBytes: int64(len(data))}, nil
}

func checkDimensions(width, height, maxPixels int) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrUnsupportedType, width, height)
	}
	if width > maxPixels/height {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, width, height, maxPixels)
	}
	return nil
}

// DecodeBase64 accepts raw base64 or a data URL
func DecodeBase64(s string, limits Limits) (*Decoded, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return Decode(data, limits)
}

// GrayscaleRatio samples pixels and returns the share whose channels differ by
// at most tolerance (on a 0-255 scale)
func GrayscaleRatio(img image.Image, tolerance int) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	step := max(1, min(b.Dx(), b.Dy())/64)
	gray, total := 0, 0
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, _ := img.At(x, y).RGBA()
			r8, g8, b8 := int(r>>8), int(g>>8), int(bl>>8)
			hi := max(r8, g8, b8)
			lo := min(r8, g8, b8)
			if hi-lo <= tolerance {
				gray++
			}
			total++
		}
	}
	return float64(gray) / float64(total)
}

// EncodePNG writes img as PNG bytes
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNGDataURL renders img as a data:image/png;base64 URL
func EncodePNGDataURL(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
