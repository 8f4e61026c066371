// Package coordinator polls one camera per entry and keeps the latest sample.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/eventbus"
	"github.com/dokzlo13/indoorsun/internal/sample"
)

// DefaultPollTimeout bounds one fetch and analysis.
const DefaultPollTimeout = 10 * time.Second

// Poll triggers, recorded with each event.
const (
	TriggerSetup   = "setup"
	TriggerPoll    = "poll"
	TriggerRefresh = "refresh"
)

// Fetcher downloads a frame.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Publisher receives sample events.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Snapshot is the coordinator state at one point in time.
type Snapshot struct {
	EntryID           string         `json:"entry_id"`
	ImageURL          string         `json:"image_url"`
	Data              *sample.Result `json:"data"`
	LastUpdateSuccess bool           `json:"last_update_success"`
	LastError         string         `json:"last_error,omitempty"`
	LastUpdate        time.Time      `json:"last_update"`
	LastSuccess       time.Time      `json:"last_success"`
}

// Coordinator polls the image URL of one entry.
type Coordinator struct {
	entryID   string
	settings  entry.Settings
	url       string
	fetcher   Fetcher
	bus       Publisher
	processor *sample.Processor
	timeout   time.Duration

	refresh chan struct{}
	pollMu  sync.Mutex

	mu          sync.RWMutex
	data        *sample.Result
	success     bool
	lastErr     error
	lastUpdate  time.Time
	lastSuccess time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout overrides the per-poll timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a coordinator for an entry. bus may be nil.
func New(entryID string, settings entry.Settings, fetcher Fetcher, bus Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		entryID:   entryID,
		settings:  settings,
		url:       settings.ImageURL(),
		fetcher:   fetcher,
		bus:       bus,
		processor: sample.NewProcessor(settings.ProcessorOptions()),
		timeout:   DefaultPollTimeout,
		refresh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EntryID returns the entry this coordinator serves.
func (c *Coordinator) EntryID() string { return c.entryID }

// Settings returns the settings the coordinator was built with.
func (c *Coordinator) Settings() entry.Settings { return c.settings }

// ImageURL returns the polled URL.
func (c *Coordinator) ImageURL() string { return c.url }

// FirstRefresh performs the initial poll. Setup of the entry fails when it
// does.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	return c.poll(ctx, TriggerSetup)
}

// Refresh polls now and returns the outcome.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.poll(ctx, TriggerRefresh)
}

// RequestRefresh asks Run to poll as soon as possible. Requests made while
// one is pending are merged.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refresh <- struct{}{}:
	default:
	}
}

// Run polls every scan interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.settings.ScanInterval)
	defer ticker.Stop()

	log.Debug().
		Str("entry_id", c.entryID).
		Str("url", c.url).
		Dur("interval", c.settings.ScanInterval).
		Msg("Coordinator started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("entry_id", c.entryID).Msg("Coordinator stopped")
			return
		case <-ticker.C:
			_ = c.poll(ctx, TriggerPoll)
		case <-c.refresh:
			_ = c.poll(ctx, TriggerRefresh)
			ticker.Reset(c.settings.ScanInterval)
		}
	}
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		EntryID:           c.entryID,
		ImageURL:          c.url,
		Data:              c.data,
		LastUpdateSuccess: c.success,
		LastUpdate:        c.lastUpdate,
		LastSuccess:       c.lastSuccess,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// poll fetches and analyses one frame. Only one poll runs at a time.
func (c *Coordinator) poll(ctx context.Context, trigger string) error {
	c.pollMu.Lock()
	defer c.pollMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.fetchAndProcess(ctx)
	if err != nil {
		c.fail(err, trigger)
		return err
	}
	c.succeed(result, trigger, time.Since(start))
	return nil
}

func (c *Coordinator) fetchAndProcess(ctx context.Context) (*sample.Result, error) {
	data, err := c.fetcher.Fetch(ctx, c.url)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out fetching image after %s: %w", c.timeout, err)
		}
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	result, err := c.processor.Process(data)
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}
	return result, nil
}

func (c *Coordinator) succeed(result *sample.Result, trigger string, took time.Duration) {
	now := time.Now()

	c.mu.Lock()
	recovered := !c.success && c.lastErr != nil
	c.data = result
	c.success = true
	c.lastErr = nil
	c.lastUpdate = now
	c.lastSuccess = now
	c.mu.Unlock()

	ev := log.Debug()
	if recovered {
		ev = log.Info()
	}
	ev.Str("entry_id", c.entryID).
		Str("trigger", trigger).
		Float64("brightness", result.Brightness).
		Str("rgb", result.RGBString).
		Dur("took", took).
		Bool("recovered", recovered).
		Msg("Sample updated")

	c.publish(eventbus.EventTypeSampleUpdated, trigger, ResultData(result))
}

func (c *Coordinator) fail(err error, trigger string) {
	c.mu.Lock()
	wasOK := c.success || c.lastErr == nil
	c.success = false
	c.lastErr = err
	c.lastUpdate = time.Now()
	c.mu.Unlock()

	// Log the transition loudly, repeats quietly.
	ev := log.Debug()
	if wasOK {
		ev = log.Warn()
	}
	ev.Err(err).Str("entry_id", c.entryID).Str("trigger", trigger).Str("url", c.url).Msg("Sample failed")

	c.publish(eventbus.EventTypeSampleFailed, trigger, map[string]any{"error": err.Error()})
}

func (c *Coordinator) publish(t eventbus.EventType, trigger string, data map[string]any) {
	if c.bus == nil {
		return
	}
	data["source"] = trigger
	data["image_url"] = c.url
	data["camera"] = c.settings.Camera
	c.bus.Publish(eventbus.Event{Type: t, EntryID: c.entryID, Data: data})
}

// ResultData flattens a result into an event payload. Image bytes are never
// included.
func ResultData(r *sample.Result) map[string]any {
	return map[string]any{
		"brightness":          r.Brightness,
		"r":                   r.R,
		"g":                   r.G,
		"b":                   r.B,
		"rgb_string":          r.RGBString,
		"cropped":             r.Cropped,
		"brightness_adjusted": r.BrightnessAdjusted,
		"color_adjusted":      r.ColorAdjusted,
		"width":               r.Width,
		"height":              r.Height,
	}
}
