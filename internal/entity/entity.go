// Package entity exposes the state of a coordinator as sensor and image
// entities.
package entity

import (
	"time"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/indoorsun/internal/coordinator"
	"github.com/dokzlo13/indoorsun/internal/entry"
)

// Source provides coordinator state.
type Source interface {
	Snapshot() coordinator.Snapshot
}

// State is the externally visible view of an entity.
type State struct {
	EntityID            string         `json:"entity_id"`
	EntryID             string         `json:"entry_id"`
	Name                string         `json:"name"`
	State               any            `json:"state"`
	Available           bool           `json:"available"`
	Attributes          map[string]any `json:"attributes"`
	Unit                string         `json:"unit_of_measurement,omitempty"`
	DeviceClass         string         `json:"device_class,omitempty"`
	StateClass          string         `json:"state_class,omitempty"`
	Icon                string         `json:"icon,omitempty"`
	ContentType         string         `json:"content_type,omitempty"`
	ExcludeFromRecorder bool           `json:"exclude_from_recorder,omitempty"`
	Device              entry.Device   `json:"device"`
	LastUpdated         time.Time      `json:"last_updated"`
}

// Entity is anything that can report a State.
type Entity interface {
	ID() string
	State() State
}

// base holds what all entities of an entry share.
type base struct {
	entryID  string
	settings entry.Settings
	source   Source
}

func (b base) device() entry.Device {
	return b.settings.Device(b.entryID)
}

// attributes builds the attributes common to every entity. They are empty
// until the first sample arrives.
func (b base) attributes(snap coordinator.Snapshot) map[string]any {
	attrs := make(map[string]any)
	if snap.Data == nil {
		return attrs
	}

	attrs["camera"] = b.settings.Camera
	attrs["source_type"] = string(b.settings.SourceType)
	attrs["image_url"] = snap.ImageURL
	attrs["scan_interval"] = int(b.settings.ScanInterval / time.Second)
	attrs["cropped"] = snap.Data.Cropped
	attrs["brightness_adjusted"] = snap.Data.BrightnessAdjusted
	attrs["color_adjusted"] = snap.Data.ColorAdjusted

	if c := b.settings.Crop; c != nil {
		attrs["crop_coordinates"] = map[string]int{
			"top_left_x":     c.TopLeftX,
			"top_left_y":     c.TopLeftY,
			"bottom_right_x": c.BottomRightX,
			"bottom_right_y": c.BottomRightY,
		}
	}
	if r := b.settings.Brightness; r != nil {
		attrs["brightness_range"] = map[string]int{"min": int(r.Min), "max": int(r.Max)}
	}
	if cr := b.settings.Color; cr != nil {
		attrs["color_range"] = map[string]int{
			"min_r": int(cr.R.Min), "min_g": int(cr.G.Min), "min_b": int(cr.B.Min),
			"max_r": int(cr.R.Max), "max_g": int(cr.G.Max), "max_b": int(cr.B.Max),
		}
	}
	return attrs
}

func (b base) state(id, name string, snap coordinator.Snapshot) State {
	return State{
		EntityID:    id,
		EntryID:     b.entryID,
		Name:        name,
		Available:   snap.LastUpdateSuccess,
		Attributes:  b.attributes(snap),
		Device:      b.device(),
		LastUpdated: snap.LastSuccess,
	}
}

// BrightnessSensor reports the brightness percentage.
type BrightnessSensor struct{ base }

func (s *BrightnessSensor) ID() string { return s.entryID + "_brightness" }

func (s *BrightnessSensor) State() State {
	snap := s.source.Snapshot()
	st := s.state(s.ID(), "Sun Brightness", snap)
	st.Unit = "%"
	st.DeviceClass = "percentage"
	st.StateClass = "measurement"
	st.Icon = "mdi:brightness-percent"

	if d := snap.Data; d != nil {
		st.State = d.Brightness
		st.Attributes["r"] = d.R
		st.Attributes["g"] = d.G
		st.Attributes["b"] = d.B
		st.Attributes["rgb_string"] = d.RGBString
	}
	return st
}

// RGBSensor reports the average color as "R, G, B".
type RGBSensor struct{ base }

func (s *RGBSensor) ID() string { return s.entryID + "_rgb" }

func (s *RGBSensor) State() State {
	snap := s.source.Snapshot()
	st := s.state(s.ID(), "Sun RGB", snap)
	st.Icon = "mdi:palette"

	if d := snap.Data; d != nil {
		st.State = d.RGBString
		st.Attributes["brightness"] = d.Brightness
		st.Attributes["r"] = d.R
		st.Attributes["g"] = d.G
		st.Attributes["b"] = d.B
		st.Attributes["hex"] = Hex(d.R, d.G, d.B)
	}
	return st
}

// ImageEntity serves the JPEG of the analysed region.
type ImageEntity struct{ base }

func (s *ImageEntity) ID() string { return s.entryID + "_image" }

func (s *ImageEntity) State() State {
	snap := s.source.Snapshot()
	st := s.state(s.ID(), "Sun Reference Image", snap)
	st.ContentType = "image/jpeg"
	st.ExcludeFromRecorder = true
	st.Available = snap.LastUpdateSuccess && snap.Data.HasImage()

	if d := snap.Data; d != nil {
		st.State = snap.LastSuccess
		st.Attributes["current_brightness"] = d.Brightness
		st.Attributes["current_r"] = d.R
		st.Attributes["current_g"] = d.G
		st.Attributes["current_b"] = d.B
		st.Attributes["current_rgb_string"] = d.RGBString
	}
	return st
}

// Image returns the latest JPEG while the last update succeeded.
func (s *ImageEntity) Image() ([]byte, time.Time, bool) {
	snap := s.source.Snapshot()
	if !snap.LastUpdateSuccess || !snap.Data.HasImage() {
		return nil, time.Time{}, false
	}
	return snap.Data.Image, snap.LastSuccess, true
}

// ForEntry builds the entities of one entry. The image entity is only
// created when enabled.
func ForEntry(e *entry.Entry, settings entry.Settings, src Source) []Entity {
	b := base{entryID: e.ID, settings: settings, source: src}
	out := []Entity{&BrightnessSensor{b}, &RGBSensor{b}}
	if settings.EnableImageEntity {
		out = append(out, &ImageEntity{b})
	}
	return out
}

// Hex formats 8-bit channels as #rrggbb.
func Hex(r, g, b int) string {
	return colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}.Hex()
}
