// Package hue mirrors sampled light onto Hue lamps.
package hue

import (
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Target kinds.
const (
	KindLight = "light"
	KindGroup = "group"
)

// Target is a light or group that follows one entry.
type Target struct {
	Entry string // Entry ID or title
	Kind  string
	ID    string
}

// Key identifies the target in stored state.
func (t Target) Key() string {
	return t.Kind + ":" + t.ID
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s", t.Kind, t.ID)
}

// Lamp is the state pushed to a target.
type Lamp struct {
	On  bool       `json:"on"`
	Bri uint8      `json:"bri"`
	Xy  [2]float32 `json:"xy"`
}

// LampFor converts a sample into a lamp state. Brightness 0 turns the lamp
// off; anything else maps onto 1-254.
func LampFor(brightness float64, r, g, b int) Lamp {
	if brightness <= 0 {
		return Lamp{On: false}
	}

	bri := math.Round(brightness / 100 * 254)
	bri = math.Max(1, math.Min(254, bri))

	c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}.Clamped()
	x, y, _ := c.Xyy()

	return Lamp{
		On:  true,
		Bri: uint8(bri),
		Xy:  [2]float32{round4(x), round4(y)},
	}
}

// round4 keeps xy stable across samples that differ only in noise.
func round4(v float64) float32 {
	return float32(math.Round(v*10000) / 10000)
}
