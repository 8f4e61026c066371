package entry

import (
	"strings"
)

// Error keys shown to users; their messages live in the flow strings
// resource.
const (
	ErrCropIncomplete      = "crop_coordinates_incomplete"
	ErrCropInvalid         = "crop_coordinates_invalid"
	ErrBrightnessRange     = "brightness_range_invalid"
	ErrColorRange          = "color_range_invalid"
	ErrURLInvalidProtocol  = "url_invalid_protocol"
	ErrConnectionFailed    = "connection_failed"
	ErrConnectionError     = "connection_error"
	ErrInvalidImageFormat  = "invalid_image_format"
	ErrSourceTypeInvalid   = "source_type_invalid"
	ErrCameraRequired      = "camera_required"
	ErrScanIntervalInvalid = "scan_interval_invalid"
	ErrBaseURLRequired     = "base_url_required"
	ErrUnknown             = "unknown"
)

// ValidateCrop checks the crop rectangle. A record without any crop key is
// valid; a partial rectangle or one whose top-left is not strictly above and
// left of its bottom-right is rejected.
func ValidateCrop(d Data) string {
	found := false
	for _, k := range CropKeys {
		if d.present(k) {
			found = true
			break
		}
	}
	if !found {
		return ""
	}
	crop, ok := parseCrop(d)
	if !ok {
		return ErrCropIncomplete
	}
	if crop.TopLeftX >= crop.BottomRightX || crop.TopLeftY >= crop.BottomRightY {
		return ErrCropInvalid
	}
	return ""
}

// ValidateBrightnessRange rejects min >= max when both bounds are present.
func ValidateBrightnessRange(d Data) string {
	lo, okLo := d.Int(KeyMinBrightness)
	hi, okHi := d.Int(KeyMaxBrightness)
	if okLo && okHi && lo >= hi {
		return ErrBrightnessRange
	}
	return ""
}

// ValidateColorRange rejects min >= max on any channel where both bounds are
// present.
func ValidateColorRange(d Data) string {
	for _, pair := range ColorKeyPairs {
		lo, okLo := d.Int(pair[0])
		hi, okHi := d.Int(pair[1])
		if okLo && okHi && lo >= hi {
			return ErrColorRange
		}
	}
	return ""
}

// ValidateURL requires an http:// or https:// URL.
func ValidateURL(u string) string {
	u = strings.TrimSpace(u)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return ErrURLInvalidProtocol
	}
	return ""
}

// Validate checks a complete record, e.g. one declared in the config file,
// and returns the first error key found.
func Validate(d Data) string {
	switch SourceType(d.String(KeySourceType)) {
	case "", SourceFrigate:
		if d.String(KeyCamera) == "" && d.String(KeyCameraName) == "" {
			return ErrCameraRequired
		}
		if d.String(KeyBaseURL) == "" {
			return ErrBaseURLRequired
		}
		if key := ValidateURL(d.String(KeyBaseURL)); key != "" {
			return key
		}
	case SourceSnapshot:
		u := d.String(KeyBaseURL)
		if u == "" {
			u = d.String(KeySnapshotURL)
		}
		if u == "" {
			return ErrBaseURLRequired
		}
		if key := ValidateURL(u); key != "" {
			return key
		}
	default:
		return ErrSourceTypeInvalid
	}

	if d.present(KeyScanInterval) {
		n, ok := d.Int(KeyScanInterval)
		if !ok || n < MinScanInterval || n > MaxScanInterval {
			return ErrScanIntervalInvalid
		}
	}

	for _, check := range []func(Data) string{ValidateCrop, ValidateBrightnessRange, ValidateColorRange} {
		if key := check(d); key != "" {
			return key
		}
	}
	return ""
}
