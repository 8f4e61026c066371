// Package script runs user Lua hooks for sample events.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/indoorsun/internal/eventbus"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// Work is executed on the Lua VM. All Lua execution goes through it.
type Work func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L   *lua.LState
	sun *sunModule

	workQueue chan Work

	// closing signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// NewRuntime creates a new Lua runtime. refresher may be nil.
func NewRuntime(refresher Refresher) *Runtime {
	r := &Runtime{
		L:         lua.NewState(),
		sun:       &sunModule{refresher: refresher},
		workQueue: make(chan Work, 100),
		closing:   make(chan struct{}),
	}

	r.L.PreloadModule("log", logLoader)
	r.L.PreloadModule("sun", r.sun.loader)

	return r
}

// Close signals the runtime to stop accepting work and closes the Lua state.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
	})
	// workQueue is never closed so late senders cannot panic.
	r.L.Close()
}

// LoadScript executes a script. Must be called before Run.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().
		Int("on_update", len(r.sun.onUpdate)).
		Int("on_failure", len(r.sun.onFailure)).
		Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes script source. Must be called before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// Do queues work without blocking. Returns false if the runtime is
// closing, the queue is full or ctx is done.
func (r *Runtime) Do(ctx context.Context, work Work) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}

	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// DoSync queues work and waits until it has run.
func (r *Runtime) DoSync(ctx context.Context, work Work) error {
	done := make(chan struct{})
	wrapped := Work(func(c context.Context) {
		defer close(done)
		work(c)
	})

	if r.isClosing() {
		return ErrRuntimeClosed
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Run is the only goroutine that touches Lua. It exits when ctx is
// cancelled or the runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	r.L.SetContext(ctx)
	work(ctx)
}

// Attach forwards sample events to the script callbacks.
func (r *Runtime) Attach(ctx context.Context, bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSampleUpdated, func(e eventbus.Event) {
		r.Do(ctx, func(context.Context) { r.dispatch(r.sun.onUpdate, e) })
	})
	bus.Subscribe(eventbus.EventTypeSampleFailed, func(e eventbus.Event) {
		r.Do(ctx, func(context.Context) { r.dispatch(r.sun.onFailure, e) })
	})
}

// dispatch calls every callback with the event table. Runs on the worker.
func (r *Runtime) dispatch(fns []*lua.LFunction, e eventbus.Event) {
	if len(fns) == 0 {
		return
	}

	tbl := mapToTable(r.L, e.Data)
	tbl.RawSetString("type", lua.LString(e.Type))
	tbl.RawSetString("entry_id", lua.LString(e.EntryID))
	tbl.RawSetString("time", goToLua(r.L, e.Time))

	for _, fn := range fns {
		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, tbl); err != nil {
			log.Error().Err(err).Str("event", string(e.Type)).Str("entry_id", e.EntryID).Msg("Lua callback failed")
		}
	}
}
