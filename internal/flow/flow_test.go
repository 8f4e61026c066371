package flow

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/source"
)

type fakeTester struct {
	result source.TestResult
	urls   []string
}

func (f *fakeTester) Test(_ context.Context, url string) source.TestResult {
	f.urls = append(f.urls, url)
	res := f.result
	res.URL = url
	return res
}

type fakeSink struct {
	entries map[string]*entry.Entry
	created []*entry.Entry
}

func newFakeSink() *fakeSink {
	return &fakeSink{entries: make(map[string]*entry.Entry)}
}

func (s *fakeSink) CreateEntry(_ context.Context, title string, data entry.Data) (*entry.Entry, error) {
	e := &entry.Entry{ID: "e1", Title: title, Data: data}
	s.entries[e.ID] = e
	s.created = append(s.created, e)
	return e, nil
}

func (s *fakeSink) Entry(_ context.Context, id string) (*entry.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (s *fakeSink) UpdateOptions(_ context.Context, id string, options entry.Data) (*entry.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.New("not found")
	}
	e.Options = options
	return e, nil
}

func newManager(t *testing.T, tester *fakeTester, sink *fakeSink) *Manager {
	t.Helper()
	m, err := NewManager(tester, sink, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func okTester() *fakeTester {
	return &fakeTester{result: source.TestResult{Format: "jpeg", Size: image.Pt(640, 480)}}
}

func step(t *testing.T, m *Manager, res *Result, input map[string]any) *Result {
	t.Helper()
	next, err := m.Configure(context.Background(), res.FlowID, input)
	if err != nil {
		t.Fatalf("Configure(%s) error = %v", res.StepID, err)
	}
	return next
}

func expectStep(t *testing.T, res *Result, stepID string) {
	t.Helper()
	if res.Type != ResultForm || res.StepID != stepID {
		t.Fatalf("got %s/%s (errors %v), want form %s", res.Type, res.StepID, res.Errors, stepID)
	}
}

func TestSetupFlow_Frigate(t *testing.T) {
	tester := okTester()
	sink := newFakeSink()
	m := newManager(t, tester, sink)

	res, err := m.StartSetup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	expectStep(t, res, "user")
	if res.Title == "" || res.Schema[0].Label != "Source type" {
		t.Errorf("form not rendered from strings: %+v", res)
	}

	res = step(t, m, res, map[string]any{"source_type": "frigate"})
	expectStep(t, res, "frigate")

	res = step(t, m, res, map[string]any{"protocol": "https", "host": "nvr.local", "camera_name": "living_room"})
	expectStep(t, res, "test_connection")
	wantURL := "https://nvr.local:443/api/living_room/latest.jpg"
	if res.Placeholders["url"] != wantURL {
		t.Errorf("url placeholder = %q, want %q", res.Placeholders["url"], wantURL)
	}
	if res.Placeholders["status"] != "Not tested" {
		t.Errorf("status placeholder = %q", res.Placeholders["status"])
	}
	if !strings.Contains(res.Description, wantURL) {
		t.Errorf("description missing url: %q", res.Description)
	}

	res = step(t, m, res, map[string]any{"action": "test"})
	expectStep(t, res, "test_connection")
	if len(tester.urls) != 1 || tester.urls[0] != wantURL {
		t.Errorf("tester called with %v", tester.urls)
	}
	if res.Placeholders["status"] != "Success" {
		t.Errorf("status placeholder = %q", res.Placeholders["status"])
	}

	res = step(t, m, res, map[string]any{"action": "proceed"})
	expectStep(t, res, "settings")

	res = step(t, m, res, map[string]any{"scan_interval": "30", "enable_image_entity": true})
	expectStep(t, res, "image_processing")

	res = step(t, m, res, map[string]any{
		"enable_cropping": true,
		"top_left_x":      0, "top_left_y": 0, "bottom_right_x": 100, "bottom_right_y": 50,
		"min_brightness": 20, // ignored, adjustment not enabled
	})
	if res.Type != ResultCreateEntry {
		t.Fatalf("got %s/%s %v, want create_entry", res.Type, res.StepID, res.Errors)
	}
	if res.Title != "Indoor Sun - living_room" || res.EntryID != "e1" {
		t.Errorf("Title = %q, EntryID = %q", res.Title, res.EntryID)
	}

	data := sink.created[0].Data
	want := entry.Data{
		"source_type":         "frigate",
		"base_url":            "https://nvr.local:443",
		"camera":              "living_room",
		"scan_interval":       30,
		"enable_image_entity": true,
		"top_left_x":          0,
		"top_left_y":          0,
		"bottom_right_x":      100,
		"bottom_right_y":      50,
		"protocol":            "https",
		"host":                "nvr.local",
		"port":                443,
		"camera_name":         "living_room",
	}
	if len(data) != len(want) {
		t.Errorf("data has %d keys, want %d: %v", len(data), len(want), data)
	}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("data[%s] = %v, want %v", k, data[k], v)
		}
	}

	if m.Len() != 0 {
		t.Error("finished flow should be removed")
	}
	if _, err := m.Get(res.FlowID); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Get() after finish error = %v", err)
	}
}

func TestSetupFlow_SnapshotValidation(t *testing.T) {
	m := newManager(t, okTester(), newFakeSink())

	res, _ := m.StartSetup(context.Background())
	res = step(t, m, res, map[string]any{"source_type": "snapshot"})
	expectStep(t, res, "snapshot")

	res = step(t, m, res, map[string]any{"snapshot_url": "rtsp://cam/stream"})
	expectStep(t, res, "snapshot")
	if res.Errors["snapshot_url"] != entry.ErrURLInvalidProtocol {
		t.Errorf("Errors = %v", res.Errors)
	}
	if res.ErrorMessages["snapshot_url"] == "" {
		t.Error("error message not rendered")
	}

	res = step(t, m, res, map[string]any{"snapshot_url": " http://cam/snap.jpg "})
	expectStep(t, res, "test_connection")
	if res.Placeholders["url"] != "http://cam/snap.jpg" {
		t.Errorf("url placeholder = %q", res.Placeholders["url"])
	}
}

func TestSetupFlow_TestConnectionActions(t *testing.T) {
	tester := &fakeTester{result: source.TestResult{ErrorKey: entry.ErrConnectionFailed}}
	m := newManager(t, tester, newFakeSink())

	res, _ := m.StartSetup(context.Background())
	res = step(t, m, res, map[string]any{"source_type": "snapshot"})
	res = step(t, m, res, map[string]any{"snapshot_url": "http://cam/snap.jpg"})

	res = step(t, m, res, map[string]any{"action": "test"})
	expectStep(t, res, "test_connection")
	if res.Errors[BaseError] != entry.ErrConnectionFailed {
		t.Errorf("Errors = %v", res.Errors)
	}
	if res.Placeholders["status"] != "Failed" {
		t.Errorf("status = %q", res.Placeholders["status"])
	}

	res = step(t, m, res, map[string]any{"action": "proceed"})
	expectStep(t, res, "test_connection")
	if res.Errors[BaseError] != errTestRequired {
		t.Errorf("proceed without a passing test: Errors = %v", res.Errors)
	}

	res = step(t, m, res, map[string]any{"action": "retest"})
	expectStep(t, res, "test_connection")
	if len(res.Errors) != 0 || res.Placeholders["status"] != "Not tested" {
		t.Errorf("retest should clear state: %v %q", res.Errors, res.Placeholders["status"])
	}

	res = step(t, m, res, map[string]any{"action": "bogus"})
	if res.Errors["action"] != FieldErrInvalidOption {
		t.Errorf("Errors = %v", res.Errors)
	}

	res = step(t, m, res, map[string]any{"action": "proceed_anyway"})
	expectStep(t, res, "settings")
}

func TestSetupFlow_ImageProcessingErrors(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		field string
		want  string
	}{
		{"crop_incomplete", map[string]any{"enable_cropping": true, "top_left_x": 0}, BaseError, entry.ErrCropIncomplete},
		{"crop_invalid", map[string]any{"enable_cropping": true, "top_left_x": 50, "top_left_y": 0, "bottom_right_x": 10, "bottom_right_y": 10}, BaseError, entry.ErrCropInvalid},
		{"brightness", map[string]any{"enable_brightness_adjustment": true, "min_brightness": 60, "max_brightness": 40}, BaseError, entry.ErrBrightnessRange},
		{"color", map[string]any{"enable_color_adjustment": true, "min_color_g": 200, "max_color_g": 100}, BaseError, entry.ErrColorRange},
		{"negative_coord", map[string]any{"top_left_x": -1}, "top_left_x", FieldErrOutOfRange},
		{"brightness_over_100", map[string]any{"max_brightness": 101}, "max_brightness", FieldErrOutOfRange},
		{"not_a_number", map[string]any{"min_color_r": "red"}, "min_color_r", FieldErrInvalidInt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newFakeSink()
			m := newManager(t, okTester(), sink)

			res, _ := m.StartSetup(context.Background())
			res = step(t, m, res, map[string]any{"source_type": "snapshot"})
			res = step(t, m, res, map[string]any{"snapshot_url": "http://cam/snap.jpg"})
			res = step(t, m, res, map[string]any{"action": "proceed_anyway"})
			res = step(t, m, res, map[string]any{})
			expectStep(t, res, "image_processing")

			res = step(t, m, res, tt.input)
			expectStep(t, res, "image_processing")
			if res.Errors[tt.field] != tt.want {
				t.Errorf("Errors = %v, want %s=%s", res.Errors, tt.field, tt.want)
			}
			if len(sink.created) != 0 {
				t.Error("entry must not be created on error")
			}
		})
	}
}

func TestSetupFlow_AdjustmentsKeptWhenEnabled(t *testing.T) {
	sink := newFakeSink()
	m := newManager(t, okTester(), sink)

	res, _ := m.StartSetup(context.Background())
	res = step(t, m, res, map[string]any{"source_type": "snapshot"})
	res = step(t, m, res, map[string]any{"snapshot_url": "http://cam/snap.jpg"})
	res = step(t, m, res, map[string]any{})
	res = step(t, m, res, map[string]any{})
	res = step(t, m, res, map[string]any{
		"enable_brightness_adjustment": true, "min_brightness": 10, "max_brightness": 90,
		"enable_color_adjustment": true,
	})
	if res.Type != ResultCreateEntry || res.Title != "Indoor Sun - Snapshot" {
		t.Fatalf("got %+v", res)
	}

	s, err := entry.ParseSettings(sink.created[0].Data)
	if err != nil {
		t.Fatal(err)
	}
	if s.Brightness == nil || s.Brightness.Min != 10 || s.Brightness.Max != 90 {
		t.Errorf("Brightness = %+v", s.Brightness)
	}
	if s.Color == nil || s.Color.R.Max != 255 {
		t.Errorf("Color = %+v", s.Color)
	}
	if s.Crop != nil {
		t.Errorf("Crop = %+v", s.Crop)
	}
	if s.ImageURL() != "http://cam/snap.jpg" || s.ScanInterval != 60*time.Second {
		t.Errorf("settings = %+v", s)
	}
}

// slowSink holds CreateEntry long enough for a second submit to queue up.
type slowSink struct {
	*fakeSink
	mu sync.Mutex
}

func (s *slowSink) CreateEntry(ctx context.Context, title string, data entry.Data) (*entry.Entry, error) {
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fakeSink.CreateEntry(ctx, title, data)
}

func TestSetupFlow_ConcurrentFinalSubmitCreatesOnce(t *testing.T) {
	sink := &slowSink{fakeSink: newFakeSink()}
	m, err := NewManager(okTester(), sink, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	res, _ := m.StartSetup(context.Background())
	res = step(t, m, res, map[string]any{"source_type": "snapshot"})
	res = step(t, m, res, map[string]any{"snapshot_url": "http://cam/snap.jpg"})
	res = step(t, m, res, map[string]any{})
	res = step(t, m, res, map[string]any{})
	expectStep(t, res, stepImageProcessing)

	type outcome struct {
		res *Result
		err error
	}
	out := make(chan outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.Configure(context.Background(), res.FlowID, map[string]any{})
			out <- outcome{r, err}
		}()
	}
	wg.Wait()
	close(out)

	created, notFound := 0, 0
	for o := range out {
		switch {
		case o.err == nil && o.res.Type == ResultCreateEntry:
			created++
		case errors.Is(o.err, ErrFlowNotFound):
			notFound++
		default:
			t.Errorf("unexpected outcome %+v, %v", o.res, o.err)
		}
	}
	if created != 1 || notFound != 1 {
		t.Errorf("created = %d, not found = %d, want 1 and 1", created, notFound)
	}
	if len(sink.created) != 1 {
		t.Errorf("sink created %d entries, want 1", len(sink.created))
	}
	if _, err := m.Get(res.FlowID); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("Get() after finish error = %v", err)
	}
}

func TestOptionsFlow(t *testing.T) {
	sink := newFakeSink()
	sink.entries["e1"] = &entry.Entry{
		ID:    "e1",
		Title: "Indoor Sun - cam",
		Data: entry.Data{
			"source_type": "frigate", "base_url": "http://nvr:5000", "camera": "cam",
			"scan_interval": 60, "min_brightness": 0, "max_brightness": 100,
			"top_left_x": 0, "top_left_y": 0, "bottom_right_x": 10, "bottom_right_y": 10,
		},
	}
	m := newManager(t, okTester(), sink)

	res, err := m.StartOptions(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	expectStep(t, res, "init")

	names := make(map[string]Field)
	for _, f := range res.Schema {
		names[f.Name] = f
	}
	if _, ok := names["min_brightness"]; !ok {
		t.Error("brightness bounds should be offered when present")
	}
	if _, ok := names["min_color_r"]; ok {
		t.Error("color bounds should not be offered when absent")
	}
	if names["bottom_right_x"].Default != 10 || !names["bottom_right_x"].Nullable {
		t.Errorf("crop field = %+v", names["bottom_right_x"])
	}

	res = step(t, m, res, map[string]any{"min_brightness": 80, "max_brightness": 20})
	if res.Errors[BaseError] != entry.ErrBrightnessRange {
		t.Errorf("Errors = %v", res.Errors)
	}

	res = step(t, m, res, map[string]any{"bottom_right_x": nil})
	if res.Errors[BaseError] != entry.ErrCropIncomplete {
		t.Errorf("Errors = %v", res.Errors)
	}

	res = step(t, m, res, map[string]any{
		"scan_interval": 15,
		"top_left_x":    nil, "top_left_y": nil, "bottom_right_x": nil, "bottom_right_y": nil,
	})
	if res.Type != ResultCreateEntry || res.EntryID != "e1" {
		t.Fatalf("got %+v", res)
	}

	s, err := sink.entries["e1"].Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.ScanInterval != 15*time.Second || s.Crop != nil {
		t.Errorf("options not applied: %+v", s)
	}
	if s.Brightness == nil {
		t.Error("brightness bounds should survive the options flow")
	}
}

func TestOptionsFlow_StaticEntryAborts(t *testing.T) {
	sink := newFakeSink()
	sink.entries["s1"] = &entry.Entry{ID: "s1", Static: true}
	m := newManager(t, okTester(), sink)

	res, err := m.StartOptions(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != ResultAbort || res.Reason != "entry_static" || res.Description == "" {
		t.Errorf("got %+v", res)
	}
}

func TestManager_ExpiryAndAbort(t *testing.T) {
	m := newManager(t, okTester(), newFakeSink())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	a, _ := m.StartSetup(context.Background())
	b, _ := m.StartSetup(context.Background())
	if a.FlowID == b.FlowID {
		t.Fatal("flow IDs must be unique")
	}

	if err := m.Abort(b.FlowID); err != nil {
		t.Fatal(err)
	}
	if err := m.Abort(b.FlowID); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("second Abort() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Configure(context.Background(), a.FlowID, map[string]any{"source_type": "frigate"}); !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("expired flow: error = %v", err)
	}
}

func TestSchemaCoerce(t *testing.T) {
	schema := Schema{
		intField("n", 5, bound(1), bound(10)),
		boolField("b", false),
		stringField("s", ""),
		enumField("e", "x", "x", "y"),
		{Name: "opt", Type: FieldInt, Nullable: true},
	}

	tests := []struct {
		name   string
		input  map[string]any
		values entry.Data
		errs   map[string]string
	}{
		{"defaults", map[string]any{"s": "a"}, entry.Data{"n": 5, "b": false, "s": "a", "e": "x"}, nil},
		{"coerced", map[string]any{"n": "7", "b": "true", "s": " a ", "e": "y", "opt": 3.0}, entry.Data{"n": 7, "b": true, "s": "a", "e": "y", "opt": 3}, nil},
		{"null_clears", map[string]any{"s": "a", "opt": nil}, entry.Data{"n": 5, "b": false, "s": "a", "e": "x", "opt": nil}, nil},
		{"errors", map[string]any{"n": 11, "b": 2, "s": "  ", "e": "z"}, nil, map[string]string{"n": FieldErrOutOfRange, "b": FieldErrInvalidOption, "s": FieldErrRequired, "e": FieldErrInvalidOption}},
		{"missing_required", map[string]any{}, nil, map[string]string{"s": FieldErrRequired}},
		{"fractional", map[string]any{"s": "a", "n": 2.5}, nil, map[string]string{"n": FieldErrInvalidInt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, errs := schema.Coerce(tt.input)
			if len(errs) != len(tt.errs) {
				t.Fatalf("errs = %v, want %v", errs, tt.errs)
			}
			for k, v := range tt.errs {
				if errs[k] != v {
					t.Errorf("errs[%s] = %q, want %q", k, errs[k], v)
				}
			}
			if tt.errs != nil {
				return
			}
			if len(values) != len(tt.values) {
				t.Errorf("values = %v, want %v", values, tt.values)
			}
			for k, v := range tt.values {
				got, ok := values[k]
				if !ok || got != v {
					t.Errorf("values[%s] = %v, want %v", k, got, v)
				}
			}
		})
	}
}
