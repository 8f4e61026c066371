package hue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestBridgeApplier_Light(t *testing.T) {
	var mu sync.Mutex
	var put map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/token/lights/7":
			w.Write([]byte(`{"state":{"on":false},"name":"Desk","type":"Extended color light"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/api/token/lights/7/state":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			json.Unmarshal(body, &put)
			mu.Unlock()
			w.Write([]byte(`[{"success":{"/lights/7/state/on":true}}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := NewBridgeApplier(srv.URL, "token")
	lamp := Lamp{On: true, Bri: 120, Xy: [2]float32{0.4, 0.4}}
	if err := a.Apply(context.Background(), Target{Kind: KindLight, ID: "7"}, lamp, time.Second); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if put["on"] != true || put["bri"] != 120.0 {
		t.Errorf("state sent = %v", put)
	}
}

func TestBridgeApplier_CancelledCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	a := NewBridgeApplier(srv.URL, "token")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Apply(ctx, Target{Kind: KindGroup, ID: "1"}, Lamp{}, 0)
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Apply() should fail when the context ends")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Apply() ignored context cancellation")
	}
}

func TestBridgeApplier_InvalidID(t *testing.T) {
	a := NewBridgeApplier("127.0.0.1:1", "token")
	if err := a.Apply(context.Background(), Target{Kind: KindLight, ID: "desk"}, Lamp{}, 0); err == nil {
		t.Error("non-numeric id should fail")
	}
}
