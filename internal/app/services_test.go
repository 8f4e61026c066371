package app

import (
	"testing"

	"github.com/dokzlo13/indoorsun/internal/config"
	"github.com/dokzlo13/indoorsun/internal/hue"
)

func TestStaticEntries(t *testing.T) {
	list := staticEntries([]config.EntryConfig{
		{ID: "porch", Data: map[string]any{"source_type": "snapshot", "base_url": "http://cam/snap.jpg"}},
		{ID: "hall", Title: "Hall", Data: map[string]any{"source_type": "frigate", "camera_name": "hall"}},
		{ID: "garage", Data: map[string]any{"source_type": "frigate", "camera_name": "garage"}},
	})

	want := []string{"Indoor Sun - Snapshot", "Hall", "Indoor Sun - garage"}
	if len(list) != len(want) {
		t.Fatalf("got %d entries", len(list))
	}
	for i, e := range list {
		if e.Title != want[i] {
			t.Errorf("entries[%d].Title = %q, want %q", i, e.Title, want[i])
		}
		if e.Version != 1 || e.Options == nil {
			t.Errorf("entries[%d] = %+v", i, e)
		}
	}
}

func TestHueTargets(t *testing.T) {
	got := hueTargets([]config.HueTarget{
		{Entry: "porch", Light: "3"},
		{Entry: "Hall", Group: "1"},
	})
	want := []hue.Target{
		{Entry: "porch", Kind: hue.KindLight, ID: "3"},
		{Entry: "Hall", Kind: hue.KindGroup, ID: "1"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("targets[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNewServices_Disabled(t *testing.T) {
	cfg, err := config.Parse([]byte("database:\n  path: \":memory:\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewServices(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Hue.Mirror != nil {
		t.Error("hue mirror should be off without a bridge")
	}
	if s.Script.Runtime != nil {
		t.Error("script runtime should be off without a script")
	}
	if err := s.ResetEntries(); err != nil {
		t.Errorf("ResetEntries() error = %v", err)
	}
}
