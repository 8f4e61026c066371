package coordinator

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/source"
)

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) types() []eventbus.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.EventType
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

func solidPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// camera serves a PNG until failing is set.
type camera struct {
	png     []byte
	failing atomic.Bool
	hits    atomic.Int32
}

func (c *camera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.hits.Add(1)
	if c.failing.Load() {
		http.Error(w, "offline", http.StatusServiceUnavailable)
		return
	}
	w.Write(c.png)
}

func snapshotSettings(t *testing.T, url string, extra entry.Data) entry.Settings {
	t.Helper()
	d := entry.Data{entry.KeySourceType: "snapshot", entry.KeyBaseURL: url, entry.KeyScanInterval: 5}
	for k, v := range extra {
		d[k] = v
	}
	s, err := entry.ParseSettings(d)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCoordinator_FirstRefreshAndFailureKeepsData(t *testing.T) {
	cam := &camera{png: solidPNG(t, color.NRGBA{R: 200, G: 100, B: 50, A: 255})}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	bus := &recordingBus{}
	c := New("e1", snapshotSettings(t, srv.URL+"/snap.jpg", nil), source.NewClient(source.Config{}), bus)

	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatalf("FirstRefresh() error = %v", err)
	}
	snap := c.Snapshot()
	if !snap.LastUpdateSuccess || snap.Data == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Data.RGBString != "200, 100, 50" || snap.Data.Brightness != 46.14 {
		t.Errorf("data = %+v", snap.Data)
	}
	if snap.Data.HasImage() {
		t.Error("image should only be encoded when the image entity is enabled")
	}

	cam.failing.Store(true)
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() should fail")
	}
	snap = c.Snapshot()
	if snap.LastUpdateSuccess || snap.LastError == "" {
		t.Errorf("failure not recorded: %+v", snap)
	}
	if snap.Data == nil || snap.Data.RGBString != "200, 100, 50" {
		t.Error("previous data must be kept after a failure")
	}

	got := bus.types()
	want := []eventbus.EventType{eventbus.EventTypeSampleUpdated, eventbus.EventTypeSampleFailed}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
	if bus.events[0].Data["source"] != TriggerSetup || bus.events[0].Data["camera"] != "snapshot" {
		t.Errorf("event data = %v", bus.events[0].Data)
	}
	if _, ok := bus.events[0].Data["image"]; ok {
		t.Error("event data must not carry image bytes")
	}
}

func TestCoordinator_FirstRefreshFailsOnBadImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	c := New("e1", snapshotSettings(t, srv.URL, nil), source.NewClient(source.Config{}), nil)
	err := c.FirstRefresh(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if c.Snapshot().Data != nil {
		t.Error("no data expected")
	}
}

type slowFetcher struct{}

func (slowFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCoordinator_PollTimeout(t *testing.T) {
	c := New("e1", snapshotSettings(t, "http://cam/snap.jpg", nil), slowFetcher{}, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	err := c.Refresh(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not applied")
	}
}

func TestCoordinator_ImageEntityEncodesCrop(t *testing.T) {
	cam := &camera{png: solidPNG(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255})}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	s := snapshotSettings(t, srv.URL, entry.Data{
		entry.KeyEnableImageEntity: true,
		entry.KeyTopLeftX:          0, entry.KeyTopLeftY: 0, entry.KeyBottomRightX: 4, entry.KeyBottomRightY: 2,
	})
	c := New("e1", s, source.NewClient(source.Config{}), nil)
	if err := c.FirstRefresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	data := c.Snapshot().Data
	if !data.HasImage() || !data.Cropped || data.Width != 4 || data.Height != 2 {
		t.Errorf("data = %+v", data)
	}
}

func TestCoordinator_RunHonoursRefreshRequests(t *testing.T) {
	cam := &camera{png: solidPNG(t, color.NRGBA{A: 255})}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	bus := &recordingBus{}
	c := New("e1", snapshotSettings(t, srv.URL, nil), source.NewClient(source.Config{}), bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	c.RequestRefresh()
	c.RequestRefresh()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Snapshot().LastUpdateSuccess && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if !c.Snapshot().LastUpdateSuccess {
		t.Fatal("refresh request not served")
	}
	if n := cam.hits.Load(); n > 2 {
		t.Errorf("merged refresh requests caused %d fetches", n)
	}
}
