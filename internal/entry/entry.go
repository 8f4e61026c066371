// Package entry defines configuration entries: the flat record produced by
// the setup flow, its options overlay and the typed settings derived from
// both.
package entry

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/dokzlo13/indoorsun/internal/sample"
)

// Domain names the integration in identifiers and device info.
const Domain = "indoor_sun"

// SoftwareVersion is reported in device info.
const SoftwareVersion = "1.0.0"

// SourceType selects where frames come from.
type SourceType string

const (
	SourceFrigate  SourceType = "frigate"
	SourceSnapshot SourceType = "snapshot"
)

// Keys of the flat configuration record.
const (
	KeySourceType        = "source_type"
	KeyBaseURL           = "base_url"
	KeyCamera            = "camera"
	KeyProtocol          = "protocol"
	KeyHost              = "host"
	KeyPort              = "port"
	KeyCameraName        = "camera_name"
	KeySnapshotURL       = "snapshot_url"
	KeyScanInterval      = "scan_interval"
	KeyEnableImageEntity = "enable_image_entity"

	KeyEnableCropping = "enable_cropping"
	KeyTopLeftX       = "top_left_x"
	KeyTopLeftY       = "top_left_y"
	KeyBottomRightX   = "bottom_right_x"
	KeyBottomRightY   = "bottom_right_y"

	KeyEnableBrightness = "enable_brightness_adjustment"
	KeyMinBrightness    = "min_brightness"
	KeyMaxBrightness    = "max_brightness"

	KeyEnableColor = "enable_color_adjustment"
	KeyMinColorR   = "min_color_r"
	KeyMinColorG   = "min_color_g"
	KeyMinColorB   = "min_color_b"
	KeyMaxColorR   = "max_color_r"
	KeyMaxColorG   = "max_color_g"
	KeyMaxColorB   = "max_color_b"
)

// CropKeys lists the crop rectangle keys in (x0, y0, x1, y1) order.
var CropKeys = []string{KeyTopLeftX, KeyTopLeftY, KeyBottomRightX, KeyBottomRightY}

// ColorKeyPairs lists (min, max) key pairs per channel.
var ColorKeyPairs = [][2]string{
	{KeyMinColorR, KeyMaxColorR},
	{KeyMinColorG, KeyMaxColorG},
	{KeyMinColorB, KeyMaxColorB},
}

// Defaults.
const (
	DefaultScanInterval  = 60
	MinScanInterval      = 5
	MaxScanInterval      = 3600
	DefaultFrigatePort   = 5000
	DefaultHTTPSPort     = 443
	DefaultMinBrightness = 0
	DefaultMaxBrightness = 100
	DefaultMinColor      = 0
	DefaultMaxColor      = 255
)

// Data is a flat key/value configuration record.
type Data map[string]any

// Clone returns a shallow copy of d.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Entry is a configured camera analysed by one coordinator.
type Entry struct {
	ID        string    `json:"entry_id"`
	Title     string    `json:"title"`
	Data      Data      `json:"data"`
	Options   Data      `json:"options"`
	Version   int64     `json:"version"`
	Static    bool      `json:"static"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Merged returns Data overlaid with Options.
func (e *Entry) Merged() Data {
	out := e.Data.Clone()
	for k, v := range e.Options {
		out[k] = v
	}
	return out
}

// Settings parses the merged record.
func (e *Entry) Settings() (Settings, error) {
	return ParseSettings(e.Merged())
}

// Crop is a rectangle given by its top-left and bottom-right corners.
type Crop struct {
	TopLeftX     int `json:"top_left_x"`
	TopLeftY     int `json:"top_left_y"`
	BottomRightX int `json:"bottom_right_x"`
	BottomRightY int `json:"bottom_right_y"`
}

// Rect converts the crop to an image rectangle.
func (c Crop) Rect() image.Rectangle {
	return image.Rect(c.TopLeftX, c.TopLeftY, c.BottomRightX, c.BottomRightY)
}

// Settings is the typed view of an entry used at runtime.
type Settings struct {
	SourceType        SourceType
	BaseURL           string
	Camera            string
	CameraName        string
	ScanInterval      time.Duration
	EnableImageEntity bool
	Crop              *Crop
	Brightness        *sample.Range
	Color             *sample.ColorRange
}

// ParseSettings builds Settings from a merged record.
func ParseSettings(d Data) (Settings, error) {
	s := Settings{
		SourceType:        SourceType(d.String(KeySourceType)),
		BaseURL:           strings.TrimRight(d.String(KeyBaseURL), "/"),
		Camera:            d.String(KeyCamera),
		CameraName:        d.String(KeyCameraName),
		ScanInterval:      time.Duration(d.IntOr(KeyScanInterval, DefaultScanInterval)) * time.Second,
		EnableImageEntity: d.Bool(KeyEnableImageEntity),
	}
	if s.SourceType == "" {
		s.SourceType = SourceFrigate
	}
	if s.SourceType != SourceFrigate && s.SourceType != SourceSnapshot {
		return Settings{}, fmt.Errorf("unknown source type %q", s.SourceType)
	}
	if s.SourceType == SourceSnapshot && s.BaseURL == "" {
		s.BaseURL = strings.TrimSpace(d.String(KeySnapshotURL))
	}
	if s.BaseURL == "" {
		return Settings{}, fmt.Errorf("%s is required", KeyBaseURL)
	}
	if s.Camera == "" {
		s.Camera = s.CameraName
	}
	if s.SourceType == SourceFrigate && s.Camera == "" {
		return Settings{}, fmt.Errorf("%s is required for frigate sources", KeyCamera)
	}
	if s.SourceType == SourceSnapshot && s.Camera == "" {
		s.Camera = string(SourceSnapshot)
	}
	if s.ScanInterval <= 0 {
		return Settings{}, fmt.Errorf("%s must be positive", KeyScanInterval)
	}

	if crop, ok := parseCrop(d); ok {
		s.Crop = &crop
	}
	if adjustmentEnabled(d, KeyEnableBrightness, KeyMinBrightness, KeyMaxBrightness) {
		s.Brightness = &sample.Range{
			Min: float64(d.IntOr(KeyMinBrightness, DefaultMinBrightness)),
			Max: float64(d.IntOr(KeyMaxBrightness, DefaultMaxBrightness)),
		}
	}
	colorKeys := []string{KeyMinColorR, KeyMinColorG, KeyMinColorB, KeyMaxColorR, KeyMaxColorG, KeyMaxColorB}
	if adjustmentEnabled(d, KeyEnableColor, colorKeys...) {
		s.Color = &sample.ColorRange{
			R: colorRange(d, ColorKeyPairs[0]),
			G: colorRange(d, ColorKeyPairs[1]),
			B: colorRange(d, ColorKeyPairs[2]),
		}
	}

	return s, nil
}

// adjustmentEnabled honours an explicit flag and otherwise treats the
// presence of any bound as enabling the adjustment.
func adjustmentEnabled(d Data, flag string, bounds ...string) bool {
	if d.present(flag) {
		return d.Bool(flag)
	}
	for _, k := range bounds {
		if d.present(k) {
			return true
		}
	}
	return false
}

func parseCrop(d Data) (Crop, bool) {
	var v [4]int
	for i, k := range CropKeys {
		n, ok := d.Int(k)
		if !ok {
			return Crop{}, false
		}
		v[i] = n
	}
	return Crop{TopLeftX: v[0], TopLeftY: v[1], BottomRightX: v[2], BottomRightY: v[3]}, true
}

func colorRange(d Data, pair [2]string) sample.Range {
	return sample.Range{
		Min: float64(d.IntOr(pair[0], DefaultMinColor)),
		Max: float64(d.IntOr(pair[1], DefaultMaxColor)),
	}
}

// ImageURL returns the URL polled for frames.
func (s Settings) ImageURL() string {
	if s.SourceType == SourceFrigate {
		return FrigateLatestURL(s.BaseURL, s.Camera)
	}
	return s.BaseURL
}

// FrigateLatestURL builds the Frigate latest-frame endpoint for camera.
func FrigateLatestURL(baseURL, camera string) string {
	return fmt.Sprintf("%s/api/%s/latest.jpg", strings.TrimRight(baseURL, "/"), camera)
}

// ProcessorOptions converts the settings to frame analysis options.
func (s Settings) ProcessorOptions() sample.Options {
	opts := sample.Options{
		Brightness:  s.Brightness,
		Color:       s.Color,
		EncodeImage: s.EnableImageEntity,
	}
	if s.Crop != nil {
		r := s.Crop.Rect()
		opts.Crop = &r
	}
	return opts
}

// Device describes the logical device all entities of an entry belong to.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// Device returns device info for the entry.
func (s Settings) Device(entryID string) Device {
	name := "Indoor Sun Snapshot"
	if s.SourceType == SourceFrigate {
		camera := s.CameraName
		if camera == "" {
			camera = s.Camera
		}
		name = "Indoor Sun " + camera
	}
	source := string(s.SourceType)
	return Device{
		Identifiers:  []string{Domain + ":" + entryID},
		Name:         name,
		Manufacturer: "Indoor Sun",
		Model:        strings.ToUpper(source[:1]) + source[1:] + " Camera Analyzer",
		SWVersion:    SoftwareVersion,
	}
}

// Title returns the display title of an entry built from d.
func Title(d Data) string {
	if SourceType(d.String(KeySourceType)) == SourceSnapshot {
		return "Indoor Sun - Snapshot"
	}
	name := d.String(KeyCameraName)
	if name == "" {
		name = d.String(KeyCamera)
	}
	return "Indoor Sun - " + name
}
