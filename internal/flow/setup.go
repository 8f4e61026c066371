package flow

import (
	"context"
	"fmt"

	"github.com/dokzlo13/indoorsun/internal/entry"
)

const (
	stepUser            = "user"
	stepFrigate         = "frigate"
	stepSnapshot        = "snapshot"
	stepTestConnection  = "test_connection"
	stepSettings        = "settings"
	stepImageProcessing = "image_processing"
	stepInit            = "init"
)

// Test step actions.
const (
	ActionTest          = "test"
	ActionProceed       = "proceed"
	ActionProceedAnyway = "proceed_anyway"
	ActionRetest        = "retest"

	actionKey = "action"
)

const errTestRequired = "test_required"

var testActions = []string{ActionTest, ActionProceed, ActionProceedAnyway, ActionRetest}

// setupFlow collects a new entry step by step.
type setupFlow struct {
	tester  Tester
	sink    Sink
	strings *Strings

	data       entry.Data
	testURL    string
	tested     bool
	testPassed bool
}

func (f *setupFlow) handle(ctx context.Context, step string, input map[string]any) (*Result, error) {
	switch step {
	case stepUser:
		return f.stepUser(input), nil
	case stepFrigate:
		return f.stepFrigate(input), nil
	case stepSnapshot:
		return f.stepSnapshot(input), nil
	case stepTestConnection:
		return f.stepTestConnection(ctx, input), nil
	case stepSettings:
		return f.stepSettings(input), nil
	case stepImageProcessing:
		return f.stepImageProcessing(ctx, input)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
}

func (f *setupFlow) userSchema() Schema {
	return Schema{
		enumField(entry.KeySourceType, string(entry.SourceFrigate), string(entry.SourceFrigate), string(entry.SourceSnapshot)),
	}
}

func (f *setupFlow) stepUser(input map[string]any) *Result {
	schema := f.userSchema()
	if input == nil {
		return form(stepUser, schema, nil)
	}

	values, errs := schema.Coerce(input)
	if len(errs) > 0 {
		return form(stepUser, schema, errs)
	}

	f.data[entry.KeySourceType] = values[entry.KeySourceType]
	if entry.SourceType(values.String(entry.KeySourceType)) == entry.SourceFrigate {
		return f.stepFrigate(nil)
	}
	return f.stepSnapshot(nil)
}

// frigateSchema prefills the form with previously entered values.
func (f *setupFlow) frigateSchema() Schema {
	protocol := f.data.String(entry.KeyProtocol)
	if protocol == "" {
		protocol = "http"
	}
	port := Field{Name: entry.KeyPort, Type: FieldInt, Min: bound(1), Max: bound(65535)}
	if p, ok := f.data.Int(entry.KeyPort); ok {
		port.Default = p
	}
	return Schema{
		enumField(entry.KeyProtocol, protocol, "http", "https"),
		stringField(entry.KeyHost, f.data.String(entry.KeyHost)),
		port,
		stringField(entry.KeyCameraName, f.data.String(entry.KeyCameraName)),
	}
}

func (f *setupFlow) stepFrigate(input map[string]any) *Result {
	schema := f.frigateSchema()
	if input == nil {
		return form(stepFrigate, schema, nil)
	}

	values, errs := schema.Coerce(input)
	if len(errs) > 0 {
		return form(stepFrigate, schema, errs)
	}

	protocol := values.String(entry.KeyProtocol)
	port, ok := values.Int(entry.KeyPort)
	if !ok {
		port = entry.DefaultFrigatePort
		if protocol == "https" {
			port = entry.DefaultHTTPSPort
		}
	}
	camera := values.String(entry.KeyCameraName)
	baseURL := fmt.Sprintf("%s://%s:%d", protocol, values.String(entry.KeyHost), port)

	f.data[entry.KeyProtocol] = protocol
	f.data[entry.KeyHost] = values.String(entry.KeyHost)
	f.data[entry.KeyPort] = port
	f.data[entry.KeyCameraName] = camera
	f.data[entry.KeyBaseURL] = baseURL
	f.data[entry.KeyCamera] = camera

	f.resetTest(entry.FrigateLatestURL(baseURL, camera))
	return f.testForm(nil)
}

func (f *setupFlow) stepSnapshot(input map[string]any) *Result {
	schema := Schema{stringField(entry.KeySnapshotURL, f.data.String(entry.KeySnapshotURL))}
	if input == nil {
		return form(stepSnapshot, schema, nil)
	}

	values, errs := schema.Coerce(input)
	if len(errs) == 0 {
		if key := entry.ValidateURL(values.String(entry.KeySnapshotURL)); key != "" {
			errs[entry.KeySnapshotURL] = key
		}
	}
	if len(errs) > 0 {
		return form(stepSnapshot, schema, errs)
	}

	u := values.String(entry.KeySnapshotURL)
	f.data[entry.KeySnapshotURL] = u
	f.data[entry.KeyBaseURL] = u
	f.data[entry.KeyCamera] = string(entry.SourceSnapshot)

	f.resetTest(u)
	return f.testForm(nil)
}

func (f *setupFlow) resetTest(url string) {
	f.testURL = url
	f.tested = false
	f.testPassed = false
}

func (f *setupFlow) testForm(errs map[string]string) *Result {
	status := "not_tested"
	switch {
	case f.testPassed:
		status = "success"
	case f.tested:
		status = "failed"
	}
	res := form(stepTestConnection, Schema{}, errs)
	res.Actions = testActions
	res.Placeholders = map[string]string{"url": f.testURL, "status": f.strings.TestStatus[status]}
	return res
}

// stepTestConnection runs on demand; an input without an action advances.
func (f *setupFlow) stepTestConnection(ctx context.Context, input map[string]any) *Result {
	if input == nil {
		return f.testForm(nil)
	}

	action, _ := entry.String(input[actionKey])
	switch action {
	case ActionTest:
		res := f.tester.Test(ctx, f.testURL)
		f.tested = true
		f.testPassed = res.OK()
		if !res.OK() {
			return f.testForm(baseError(res.ErrorKey))
		}
		return f.testForm(nil)

	case ActionRetest:
		f.tested = false
		f.testPassed = false
		return f.testForm(nil)

	case ActionProceed:
		if !f.testPassed {
			return f.testForm(baseError(errTestRequired))
		}
		return f.stepSettings(nil)

	case ActionProceedAnyway, "":
		return f.stepSettings(nil)
	}
	return f.testForm(map[string]string{actionKey: FieldErrInvalidOption})
}

func settingsSchema(interval int, image bool) Schema {
	return Schema{
		intField(entry.KeyScanInterval, interval, bound(entry.MinScanInterval), bound(entry.MaxScanInterval)),
		boolField(entry.KeyEnableImageEntity, image),
	}
}

func (f *setupFlow) stepSettings(input map[string]any) *Result {
	schema := settingsSchema(
		f.data.IntOr(entry.KeyScanInterval, entry.DefaultScanInterval),
		f.data.Bool(entry.KeyEnableImageEntity),
	)
	if input == nil {
		return form(stepSettings, schema, nil)
	}

	values, errs := schema.Coerce(input)
	if len(errs) > 0 {
		return form(stepSettings, schema, errs)
	}
	for k, v := range values {
		f.data[k] = v
	}
	return form(stepImageProcessing, imageProcessingSchema(), nil)
}

func imageProcessingSchema() Schema {
	s := Schema{
		boolField(entry.KeyEnableCropping, false),
	}
	for _, k := range entry.CropKeys {
		s = append(s, intField(k, nil, bound(0), nil))
	}
	s = append(s,
		boolField(entry.KeyEnableBrightness, false),
		intField(entry.KeyMinBrightness, entry.DefaultMinBrightness, bound(0), bound(100)),
		intField(entry.KeyMaxBrightness, entry.DefaultMaxBrightness, bound(0), bound(100)),
		boolField(entry.KeyEnableColor, false),
	)
	for _, pair := range entry.ColorKeyPairs {
		s = append(s, intField(pair[0], entry.DefaultMinColor, bound(0), bound(255)))
	}
	for _, pair := range entry.ColorKeyPairs {
		s = append(s, intField(pair[1], entry.DefaultMaxColor, bound(0), bound(255)))
	}
	return s
}

func (f *setupFlow) stepImageProcessing(ctx context.Context, input map[string]any) (*Result, error) {
	schema := imageProcessingSchema()
	if input == nil {
		return form(stepImageProcessing, schema, nil), nil
	}

	values, errs := schema.Coerce(input)
	if len(errs) > 0 {
		return form(stepImageProcessing, schema, errs), nil
	}
	if key := validateImageProcessing(values); key != "" {
		return form(stepImageProcessing, schema, baseError(key)), nil
	}

	for k, v := range values {
		f.data[k] = v
	}

	data := f.finalData()
	title := entry.Title(data)
	e, err := f.sink.CreateEntry(ctx, title, data)
	if err != nil {
		return nil, err
	}
	return &Result{Type: ResultCreateEntry, Title: title, EntryID: e.ID, Data: data}, nil
}

// validateImageProcessing only checks the groups that are switched on.
func validateImageProcessing(values entry.Data) string {
	if values.Bool(entry.KeyEnableCropping) {
		for _, k := range entry.CropKeys {
			if values[k] == nil {
				return entry.ErrCropIncomplete
			}
		}
		if key := entry.ValidateCrop(values); key != "" {
			return key
		}
	}
	if values.Bool(entry.KeyEnableBrightness) {
		if key := entry.ValidateBrightnessRange(values); key != "" {
			return key
		}
	}
	if values.Bool(entry.KeyEnableColor) {
		if key := entry.ValidateColorRange(values); key != "" {
			return key
		}
	}
	return ""
}

// finalData keeps only the keys the entry needs; switched off groups are
// left out so their presence alone enables an adjustment.
func (f *setupFlow) finalData() entry.Data {
	d := f.data
	out := entry.Data{
		entry.KeySourceType:        d.String(entry.KeySourceType),
		entry.KeyBaseURL:           d.String(entry.KeyBaseURL),
		entry.KeyCamera:            d.String(entry.KeyCamera),
		entry.KeyScanInterval:      d.IntOr(entry.KeyScanInterval, entry.DefaultScanInterval),
		entry.KeyEnableImageEntity: d.Bool(entry.KeyEnableImageEntity),
	}

	copyKeys := func(keys ...string) {
		for _, k := range keys {
			out[k] = d[k]
		}
	}
	if d.Bool(entry.KeyEnableCropping) {
		copyKeys(entry.CropKeys...)
	}
	if d.Bool(entry.KeyEnableBrightness) {
		copyKeys(entry.KeyMinBrightness, entry.KeyMaxBrightness)
	}
	if d.Bool(entry.KeyEnableColor) {
		for _, pair := range entry.ColorKeyPairs {
			copyKeys(pair[0], pair[1])
		}
	}

	if entry.SourceType(d.String(entry.KeySourceType)) == entry.SourceFrigate {
		copyKeys(entry.KeyProtocol, entry.KeyHost, entry.KeyPort, entry.KeyCameraName)
	} else {
		copyKeys(entry.KeySnapshotURL)
	}
	return out
}
