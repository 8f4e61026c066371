package flow

import (
	"context"
	"fmt"

	"github.com/dokzlo13/indoorsun/internal/entry"
)

// optionsFlow edits the options overlay of one entry in a single step.
type optionsFlow struct {
	sink  Sink
	entry *entry.Entry
}

func (f *optionsFlow) handle(ctx context.Context, step string, input map[string]any) (*Result, error) {
	if step != stepInit {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}

	schema := f.schema()
	if input == nil {
		return form(stepInit, schema, nil), nil
	}

	values, errs := schema.Coerce(input)
	if len(errs) > 0 {
		return form(stepInit, schema, errs), nil
	}
	for _, check := range []func(entry.Data) string{
		entry.ValidateBrightnessRange,
		entry.ValidateColorRange,
		entry.ValidateCrop,
	} {
		if key := check(values); key != "" {
			return form(stepInit, schema, baseError(key)), nil
		}
	}

	e, err := f.sink.UpdateOptions(ctx, f.entry.ID, values)
	if err != nil {
		return nil, err
	}
	return &Result{Type: ResultCreateEntry, Title: e.Title, EntryID: e.ID, Data: values}, nil
}

// schema prefills the form from the merged entry. Bound fields only appear
// when the entry already uses them.
func (f *optionsFlow) schema() Schema {
	cur := f.entry.Merged()

	s := Schema{
		intField(entry.KeyScanInterval, cur.IntOr(entry.KeyScanInterval, entry.DefaultScanInterval),
			bound(entry.MinScanInterval), bound(entry.MaxScanInterval)),
		boolField(entry.KeyEnableImageEntity, cur.Bool(entry.KeyEnableImageEntity)),
	}
	for _, k := range entry.CropKeys {
		field := intField(k, nil, bound(0), nil)
		field.Nullable = true
		if v, ok := cur.Int(k); ok {
			field.Default = v
		}
		s = append(s, field)
	}

	if hasAny(cur, entry.KeyMinBrightness, entry.KeyMaxBrightness) {
		s = append(s,
			intField(entry.KeyMinBrightness, cur.IntOr(entry.KeyMinBrightness, entry.DefaultMinBrightness), bound(0), bound(100)),
			intField(entry.KeyMaxBrightness, cur.IntOr(entry.KeyMaxBrightness, entry.DefaultMaxBrightness), bound(0), bound(100)),
		)
	}

	var colorKeys []string
	for _, pair := range entry.ColorKeyPairs {
		colorKeys = append(colorKeys, pair[0], pair[1])
	}
	if hasAny(cur, colorKeys...) {
		for _, pair := range entry.ColorKeyPairs {
			s = append(s, intField(pair[0], cur.IntOr(pair[0], entry.DefaultMinColor), bound(0), bound(255)))
		}
		for _, pair := range entry.ColorKeyPairs {
			s = append(s, intField(pair[1], cur.IntOr(pair[1], entry.DefaultMaxColor), bound(0), bound(255)))
		}
	}
	return s
}

func hasAny(d entry.Data, keys ...string) bool {
	for _, k := range keys {
		if d[k] != nil {
			return true
		}
	}
	return false
}
