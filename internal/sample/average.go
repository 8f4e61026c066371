package sample

import (
	"errors"
	"image"
	"image/color"
)

// ErrEmptyRegion is returned when the selected region contains no pixels.
var ErrEmptyRegion = errors.New("sample region is empty")

// Region resolves crop against bounds. Crop coordinates are relative to the
// image origin; the result is clipped to bounds. A nil crop selects the
// whole frame.
func Region(bounds image.Rectangle, crop *image.Rectangle) image.Rectangle {
	if crop == nil {
		return bounds
	}
	return crop.Add(bounds.Min).Intersect(bounds)
}

// Average computes the mean non-premultiplied color of img over crop.
func Average(img image.Image, crop *image.Rectangle) (RGB, error) {
	c, _, err := average(img, Region(img.Bounds(), crop))
	return c, err
}

func average(img image.Image, r image.Rectangle) (RGB, int, error) {
	if r.Empty() {
		return RGB{}, 0, ErrEmptyRegion
	}

	var sr, sg, sb uint64

	switch src := img.(type) {
	case *image.YCbCr:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				cr, cg, cb := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				sr += uint64(cr)
				sg += uint64(cg)
				sb += uint64(cb)
			}
		}
	case *image.NRGBA:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			off := src.PixOffset(r.Min.X, y)
			for x := r.Min.X; x < r.Max.X; x++ {
				sr += uint64(src.Pix[off])
				sg += uint64(src.Pix[off+1])
				sb += uint64(src.Pix[off+2])
				off += 4
			}
		}
	default:
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				sr += uint64(c.R)
				sg += uint64(c.G)
				sb += uint64(c.B)
			}
		}
	}

	n := r.Dx() * r.Dy()
	total := float64(n)
	return RGB{
		R: float64(sr) / total,
		G: float64(sg) / total,
		B: float64(sb) / total,
	}, n, nil
}
