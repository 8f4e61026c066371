package registry

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dokzlo13/indoorsun/internal/coordinator"
	"github.com/dokzlo13/indoorsun/internal/db"
	"github.com/dokzlo13/indoorsun/internal/entries"
	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/source"
)

type camera struct {
	png     []byte
	failing atomic.Bool
}

func (c *camera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.failing.Load() {
		http.Error(w, "offline", http.StatusBadGateway)
		return
	}
	w.Write(c.png)
}

func newCamera(t *testing.T) (*camera, string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 100, G: 150, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	cam := &camera{png: buf.Bytes()}
	srv := httptest.NewServer(cam)
	t.Cleanup(srv.Close)
	return cam, srv.URL + "/snapshot.png"
}

func newRegistry(t *testing.T, bus *eventbus.Bus) (*Registry, *entries.Store) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	store := entries.NewStore(database.DB)
	r := New(store, source.NewClient(source.Config{}), bus, time.Second)
	t.Cleanup(r.Close)
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return r, store
}

func snapshotData(url string) entry.Data {
	return entry.Data{
		entry.KeySourceType:   "snapshot",
		entry.KeyBaseURL:      url,
		entry.KeyScanInterval: 60,
	}
}

func TestRegistry_CreateAndUpdate(t *testing.T) {
	_, url := newCamera(t)
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	e, err := r.CreateEntry(ctx, "Indoor Sun - Snapshot", snapshotData(url))
	if err != nil {
		t.Fatal(err)
	}

	status, err := r.Status(ctx, e.ID)
	if err != nil || status.State != StateLoaded {
		t.Fatalf("Status() = %+v, %v", status, err)
	}
	if n := len(r.Entities()); n != 2 {
		t.Errorf("got %d entities, want 2", n)
	}
	snap, err := r.Snapshot(e.ID)
	if err != nil || snap.Data == nil || snap.Data.RGBString != "100, 150, 200" {
		t.Errorf("Snapshot() = %+v, %v", snap, err)
	}
	if _, ok := r.ImageEntity(e.ID); ok {
		t.Error("image entity should be disabled")
	}

	e, err = r.UpdateOptions(ctx, e.ID, entry.Data{entry.KeyEnableImageEntity: true})
	if err != nil {
		t.Fatal(err)
	}
	if e.Version != 2 {
		t.Errorf("Version = %d, want 2", e.Version)
	}
	if n := len(r.Entities()); n != 3 {
		t.Errorf("got %d entities after enabling image, want 3", n)
	}
	img, ok := r.ImageEntity(e.ID)
	if !ok {
		t.Fatal("image entity missing")
	}
	if _, _, ok := img.Image(); !ok {
		t.Error("image entity has no image after reload")
	}
	if ent, ok := r.Entity(e.ID + "_rgb"); !ok || ent.State().State != "100, 150, 200" {
		t.Errorf("Entity(_rgb) = %v, %v", ent, ok)
	}
	if r.Title(e.ID) != "Indoor Sun - Snapshot" {
		t.Errorf("Title() = %q", r.Title(e.ID))
	}
}

func TestRegistry_SetupErrorRetriedOnRefresh(t *testing.T) {
	cam, url := newCamera(t)
	cam.failing.Store(true)
	r, _ := newRegistry(t, nil)
	ctx := context.Background()

	e, err := r.CreateEntry(ctx, "cam", snapshotData(url))
	if err != nil {
		t.Fatal(err)
	}
	status, _ := r.Status(ctx, e.ID)
	if status.State != StateSetupError || status.Reason == "" {
		t.Fatalf("status = %+v, want setup_error", status)
	}
	if len(r.Entities()) != 0 || r.Ready() {
		t.Error("failed entry must not expose entities or report ready")
	}
	if _, err := r.Snapshot(e.ID); !errors.Is(err, ErrEntryNotLoaded) {
		t.Errorf("Snapshot() error = %v", err)
	}

	if _, err := r.Refresh(ctx, e.ID); err == nil {
		t.Error("Refresh() should fail while the camera is down")
	}

	cam.failing.Store(false)
	snap, err := r.Refresh(ctx, e.ID)
	if err != nil || !snap.LastUpdateSuccess {
		t.Fatalf("Refresh() = %+v, %v", snap, err)
	}
	if status, _ := r.Status(ctx, e.ID); status.State != StateLoaded || !r.Ready() {
		t.Errorf("status after retry = %+v", status)
	}
}

func TestRegistry_RemoveAndEvents(t *testing.T) {
	_, url := newCamera(t)
	bus := eventbus.New()
	defer bus.Close(context.Background())

	got := make(chan eventbus.EventType, 16)
	for _, et := range []eventbus.EventType{eventbus.EventTypeEntryAdded, eventbus.EventTypeEntryRemoved} {
		bus.Subscribe(et, func(e eventbus.Event) { got <- e.Type })
	}

	r, _ := newRegistry(t, bus)
	ctx := context.Background()

	e, err := r.CreateEntry(ctx, "cam", snapshotData(url))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Status(ctx, e.ID); !errors.Is(err, entries.ErrEntryNotFound) {
		t.Errorf("Status() after remove error = %v", err)
	}
	if len(r.Entities()) != 0 {
		t.Error("entities left after remove")
	}

	seen := map[eventbus.EventType]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case et := <-got:
			seen[et] = true
		case <-timeout:
			t.Fatalf("events seen = %v", seen)
		}
	}
}

func TestRegistry_StaticEntries(t *testing.T) {
	_, url := newCamera(t)
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	store := entries.NewStore(database.DB)
	store.SetStatic([]*entry.Entry{{ID: "porch", Title: "Porch", Data: snapshotData(url), Version: 1}})

	r := New(store, source.NewClient(source.Config{}), nil, time.Second)
	defer r.Close()
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}

	list, err := r.Statuses(ctx)
	if err != nil || len(list) != 1 || list[0].State != StateLoaded || !list[0].Static {
		t.Fatalf("Statuses() = %+v, %v", list, err)
	}
	if err := r.Remove(ctx, "porch"); !errors.Is(err, entries.ErrStaticEntry) {
		t.Errorf("Remove(static) error = %v", err)
	}
}

func TestRegistry_RequestRefresh(t *testing.T) {
	_, url := newCamera(t)
	bus := eventbus.New()
	defer bus.Close(context.Background())

	updates := make(chan eventbus.Event, 16)
	bus.Subscribe(eventbus.EventTypeSampleUpdated, func(e eventbus.Event) { updates <- e })

	r, _ := newRegistry(t, bus)
	ctx := context.Background()

	if r.RequestRefresh("missing") {
		t.Error("RequestRefresh(missing) = true")
	}

	e, err := r.CreateEntry(ctx, "cam", snapshotData(url))
	if err != nil {
		t.Fatal(err)
	}
	if !r.RequestRefresh(e.ID) {
		t.Fatal("RequestRefresh() = false for a loaded entry")
	}

	// setup poll plus the requested one
	timeout := time.After(2 * time.Second)
	for seen := 0; seen < 2; {
		select {
		case ev := <-updates:
			if ev.EntryID == e.ID {
				seen++
			}
		case <-timeout:
			t.Fatalf("saw %d sample updates, want 2", seen)
		}
	}
}

// titleFetcher records what the registry reports for an entry while its
// frame is being fetched.
type titleFetcher struct {
	next   coordinator.Fetcher
	reg    *Registry
	id     string
	titles []string
	states []EntryState
}

func (f *titleFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.titles = append(f.titles, f.reg.Title(f.id))
	if st, err := f.reg.Status(ctx, f.id); err == nil {
		f.states = append(f.states, st.State)
	}
	return f.next.Fetch(ctx, url)
}

func TestRegistry_TitleKnownDuringFirstRefresh(t *testing.T) {
	_, url := newCamera(t)
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	store := entries.NewStore(database.DB)
	store.SetStatic([]*entry.Entry{{ID: "porch", Title: "Porch", Data: snapshotData(url), Version: 1}})

	fetcher := &titleFetcher{next: source.NewClient(source.Config{}), id: "porch"}
	r := New(store, fetcher, nil, time.Second)
	fetcher.reg = r
	defer r.Close()

	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fetcher.titles) == 0 || fetcher.titles[0] != "Porch" {
		t.Errorf("titles during setup = %q", fetcher.titles)
	}
	if len(fetcher.states) == 0 || fetcher.states[0] != StateLoading {
		t.Errorf("states during setup = %v", fetcher.states)
	}
	if st, _ := r.Status(context.Background(), "porch"); st.State != StateLoaded {
		t.Errorf("state after setup = %s", st.State)
	}
}
