package sample

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF format
	"image/jpeg"
	_ "image/png" // Register PNG format

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp" // Register BMP format
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP format
)

// DefaultJPEGQuality is the quality of the re-encoded reference image.
const DefaultJPEGQuality = 85

// ErrInvalidImage wraps decoder failures.
var ErrInvalidImage = errors.New("invalid image format")

// Options controls how a frame is analysed.
type Options struct {
	// Crop selects a sub-rectangle relative to the image origin. Nil means
	// the whole frame.
	Crop *image.Rectangle

	// Brightness rescales the brightness percentage when set.
	Brightness *Range

	// Color rescales each channel when set.
	Color *ColorRange

	// EncodeImage keeps a JPEG of the analysed region in the result.
	EncodeImage bool
	JPEGQuality int
}

// Result is the computed record for one frame.
type Result struct {
	Brightness         float64 `json:"brightness"`
	R                  int     `json:"r"`
	G                  int     `json:"g"`
	B                  int     `json:"b"`
	RGBString          string  `json:"rgb_string"`
	Cropped            bool    `json:"cropped"`
	BrightnessAdjusted bool    `json:"brightness_adjusted"`
	ColorAdjusted      bool    `json:"color_adjusted"`
	Width              int     `json:"width"`
	Height             int     `json:"height"`

	// Image is the JPEG of the analysed region; only set with EncodeImage.
	Image []byte `json:"-"`
}

// HasImage reports whether the result carries reference image bytes.
func (r *Result) HasImage() bool {
	return r != nil && len(r.Image) > 0
}

// Processor decodes frames and computes Results with fixed Options.
type Processor struct {
	opts Options
}

// NewProcessor creates a processor.
func NewProcessor(opts Options) *Processor {
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	return &Processor{opts: opts}
}

// Options returns the processor options.
func (p *Processor) Options() Options {
	return p.opts
}

// Process decodes data and computes the average color and brightness.
func (p *Processor) Process(data []byte) (*Result, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return p.ProcessImage(img, format)
}

// ProcessImage computes a Result for an already decoded image.
func (p *Processor) ProcessImage(img image.Image, format string) (*Result, error) {
	region := Region(img.Bounds(), p.opts.Crop)

	avg, pixels, err := average(img, region)
	if err != nil {
		return nil, err
	}

	if p.opts.Crop != nil {
		log.Debug().
			Str("original", img.Bounds().Size().String()).
			Str("cropped", region.Size().String()).
			Msg("Cropped frame")
	}

	brightness := Brightness(avg)
	if p.opts.Brightness != nil {
		brightness = ScaleBrightness(brightness, p.opts.Brightness.Min, p.opts.Brightness.Max)
	}
	if p.opts.Color != nil {
		avg = ScaleColor(avg, *p.opts.Color)
	}

	r, g, b := avg.Rounded()
	res := &Result{
		Brightness:         roundTo(brightness, 2),
		R:                  r,
		G:                  g,
		B:                  b,
		RGBString:          avg.String(),
		Cropped:            p.opts.Crop != nil,
		BrightnessAdjusted: p.opts.Brightness != nil,
		ColorAdjusted:      p.opts.Color != nil,
		Width:              region.Dx(),
		Height:             region.Dy(),
	}

	log.Debug().
		Str("format", format).
		Int("pixels", pixels).
		Float64("brightness", res.Brightness).
		Str("rgb", res.RGBString).
		Msg("Processed frame")

	if p.opts.EncodeImage {
		encoded, err := encodeRegion(img, region, p.opts.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("failed to encode reference image: %w", err)
		}
		res.Image = encoded
	}

	return res, nil
}

func encodeRegion(img image.Image, region image.Rectangle, quality int) ([]byte, error) {
	src := img
	if region != img.Bounds() {
		dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
		draw.Draw(dst, dst.Bounds(), img, region.Min, draw.Src)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Probe checks that data is a decodable image and returns its format and
// dimensions without decoding the pixels.
func Probe(data []byte) (string, image.Point, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", image.Point{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	return format, image.Pt(cfg.Width, cfg.Height), nil
}
