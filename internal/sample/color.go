// Package sample turns camera frames into an average color and a perceptual
// brightness value.
package sample

import (
	"fmt"
	"math"
)

// ITU-R BT.709 luma weights.
const (
	weightR = 0.2126
	weightG = 0.7152
	weightB = 0.0722
)

// RGB is a mean color. Channels are fractional and lie in [0, 255].
type RGB struct {
	R, G, B float64
}

// Rounded returns the channels rounded half-to-even.
func (c RGB) Rounded() (r, g, b int) {
	return int(math.RoundToEven(c.R)), int(math.RoundToEven(c.G)), int(math.RoundToEven(c.B))
}

// String formats the rounded channels as "R, G, B".
func (c RGB) String() string {
	r, g, b := c.Rounded()
	return fmt.Sprintf("%d, %d, %d", r, g, b)
}

// Brightness returns the BT.709 luminance of c as a percentage (0-100).
func Brightness(c RGB) float64 {
	y := weightR*c.R + weightG*c.G + weightB*c.B
	return y / 255 * 100
}

// Range is a closed [Min, Max] source interval used for rescaling.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ColorRange holds one source interval per channel.
type ColorRange struct {
	R Range `json:"r"`
	G Range `json:"g"`
	B Range `json:"b"`
}

// ScaleBrightness maps v from [lo, hi] onto [0, 100], clamping the result.
// A non-positive span leaves v untouched.
func ScaleBrightness(v, lo, hi float64) float64 {
	return rescale(v, lo, hi, 100)
}

// ScaleChannel maps v from [lo, hi] onto [0, 255], clamping the result.
// A non-positive span leaves v untouched.
func ScaleChannel(v, lo, hi float64) float64 {
	return rescale(v, lo, hi, 255)
}

// ScaleColor applies ScaleChannel to every channel of c.
func ScaleColor(c RGB, cr ColorRange) RGB {
	return RGB{
		R: ScaleChannel(c.R, cr.R.Min, cr.R.Max),
		G: ScaleChannel(c.G, cr.G.Min, cr.G.Max),
		B: ScaleChannel(c.B, cr.B.Min, cr.B.Max),
	}
}

func rescale(v, lo, hi, out float64) float64 {
	span := hi - lo
	if span <= 0 {
		return v
	}
	return clamp((v-lo)/span*out, 0, out)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// roundTo rounds v half-to-even to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*p) / p
}
