// Package preprocess turns uploaded image bytes into model input tensors.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "github.com/gen2brain/webp" // registers the webp decoder
	"github.com/nfnt/resize"

	"github.com/Brownie44l1/emotion-api/internal/model"
)

var interpolations = map[string]resize.InterpolationFunction{
	"nearest":  resize.NearestNeighbor,
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"lanczos3": resize.Lanczos3,
}

// ParseInterpolation maps a config name to a resize kernel.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	interp, ok := interpolations[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown interpolation %q", name)
	}
	return interp, nil
}

// ValidateContentType accepts any declared type starting with "image/".
func ValidateContentType(contentType string) error {
	if !strings.HasPrefix(contentType, "image/") {
		return &InvalidInputError{ContentType: contentType}
	}
	return nil
}

// DefaultMaxPixels is the largest decoded image accepted, width times height.
const DefaultMaxPixels = 178956970

// Preprocessor resizes images to a fixed size and scales pixels to [0,1].
// It holds no mutable state.
type Preprocessor struct {
	width, height int
	interp        resize.InterpolationFunction
	maxPixels     int64
}

type Option func(*Preprocessor)

// WithMaxPixels caps the declared dimensions of an image before it is
// decoded; zero or less disables the cap.
func WithMaxPixels(n int64) Option {
	return func(p *Preprocessor) { p.maxPixels = n }
}

func New(width, height int, interp resize.InterpolationFunction, opts ...Option) *Preprocessor {
	p := &Preprocessor{width: width, height: height, interp: interp, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preprocess validates the declared type, decodes data and returns a
// [1,height,width,3] tensor.
func (p *Preprocessor) Preprocess(data []byte, contentType string) (*model.Tensor, error) {
	if err := ValidateContentType(contentType); err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); p.maxPixels > 0 && pixels > p.maxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, p.maxPixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return p.FromImage(img), nil
}

func (p *Preprocessor) FromImage(img image.Image) *model.Tensor {
	resized := resize.Resize(uint(p.width), uint(p.height), toRGB(img), p.interp)

	b := resized.Bounds()
	t := model.NewTensor(1, p.height, p.width, 3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl := rgbAt(resized, x, y)
			t.Data[i] = float32(r) / 255
			t.Data[i+1] = float32(g) / 255
			t.Data[i+2] = float32(bl) / 255
			i += 3
		}
	}
	return t
}

// toRGB drops alpha from straight (non-premultiplied) colour and expands
// grayscale, returning an opaque image.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			o := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[o], dst.Pix[o+1], dst.Pix[o+2], dst.Pix[o+3] = c.R, c.G, c.B, 0xff
		}
	}
	return dst
}

func rgbAt(img image.Image, x, y int) (uint8, uint8, uint8) {
	if rgba, ok := img.(*image.RGBA); ok {
		o := rgba.PixOffset(x, y)
		return rgba.Pix[o], rgba.Pix[o+1], rgba.Pix[o+2]
	}
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.G, c.B
}
