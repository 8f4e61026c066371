// Package flow implements the multi-step setup flow that creates entries and
// the options flow that edits them.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/entry"
	"github.com/dokzlo13/indoorsun/internal/source"
)

// DefaultTTL is how long an idle flow is kept.
const DefaultTTL = 30 * time.Minute

var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrUnknownStep  = errors.New("unknown step")
)

// Kind distinguishes setup flows from options flows.
type Kind string

const (
	KindConfig  Kind = "config"
	KindOptions Kind = "options"
)

// ResultType is what a step produced.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

// Result is returned by every flow call.
type Result struct {
	FlowID        string            `json:"flow_id"`
	Kind          Kind              `json:"kind"`
	Type          ResultType        `json:"type"`
	StepID        string            `json:"step_id,omitempty"`
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Schema        Schema            `json:"data_schema,omitempty"`
	Actions       []string          `json:"actions,omitempty"`
	Errors        map[string]string `json:"errors,omitempty"`
	ErrorMessages map[string]string `json:"error_messages,omitempty"`
	Placeholders  map[string]string `json:"description_placeholders,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	EntryID       string            `json:"entry_id,omitempty"`
	Data          entry.Data        `json:"data,omitempty"`
}

func form(step string, schema Schema, errs map[string]string) *Result {
	if len(errs) == 0 {
		errs = nil
	}
	return &Result{Type: ResultForm, StepID: step, Schema: schema, Errors: errs}
}

func baseError(key string) map[string]string {
	return map[string]string{BaseError: key}
}

// Tester checks that a URL serves an image.
type Tester interface {
	Test(ctx context.Context, url string) source.TestResult
}

// Sink persists the outcome of flows.
type Sink interface {
	CreateEntry(ctx context.Context, title string, data entry.Data) (*entry.Entry, error)
	Entry(ctx context.Context, id string) (*entry.Entry, error)
	UpdateOptions(ctx context.Context, id string, options entry.Data) (*entry.Entry, error)
}

type handler interface {
	handle(ctx context.Context, step string, input map[string]any) (*Result, error)
}

type instance struct {
	mu      sync.Mutex
	id      string
	kind    Kind
	handler handler
	last    *Result
	touched time.Time
	done    bool // set once a non-form result was returned
}

// Manager holds flows in progress.
type Manager struct {
	tester  Tester
	sink    Sink
	strings *Strings
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	flows map[string]*instance
}

// NewManager creates a new flow manager.
func NewManager(tester Tester, sink Sink, ttl time.Duration) (*Manager, error) {
	s, err := LoadStrings()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		tester:  tester,
		sink:    sink,
		strings: s,
		ttl:     ttl,
		now:     time.Now,
		flows:   make(map[string]*instance),
	}, nil
}

// StartSetup starts a setup flow and returns its first form.
func (m *Manager) StartSetup(ctx context.Context) (*Result, error) {
	return m.start(ctx, KindConfig, &setupFlow{tester: m.tester, sink: m.sink, strings: m.strings, data: entry.Data{}}, stepUser)
}

// StartOptions starts an options flow for an existing entry.
func (m *Manager) StartOptions(ctx context.Context, entryID string) (*Result, error) {
	e, err := m.sink.Entry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Static {
		res := &Result{Kind: KindOptions, Type: ResultAbort, Reason: "entry_static", EntryID: e.ID}
		m.strings.render(KindOptions, res)
		return res, nil
	}
	return m.start(ctx, KindOptions, &optionsFlow{sink: m.sink, entry: e}, stepInit)
}

func (m *Manager) start(ctx context.Context, kind Kind, h handler, first string) (*Result, error) {
	inst := &instance{
		id:      uuid.NewString(),
		kind:    kind,
		handler: h,
	}

	res, err := h.handle(ctx, first, nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.purgeLocked()
	inst.touched = m.now()
	m.flows[inst.id] = inst
	m.mu.Unlock()

	log.Debug().Str("flow_id", inst.id).Str("kind", string(kind)).Msg("Flow started")
	return m.finish(inst, res), nil
}

// Configure submits input to the current step of a flow.
func (m *Manager) Configure(ctx context.Context, flowID string, input map[string]any) (*Result, error) {
	inst, err := m.lookup(flowID)
	if err != nil {
		return nil, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	// Another request may have finished or aborted the flow while this one
	// waited for the lock.
	if inst.done || !m.active(inst) {
		return nil, ErrFlowNotFound
	}

	if input == nil {
		input = map[string]any{}
	}
	res, err := inst.handler.handle(ctx, inst.last.StepID, input)
	if err != nil {
		return nil, fmt.Errorf("flow %s step %s: %w", flowID, inst.last.StepID, err)
	}
	return m.finish(inst, res), nil
}

// Get returns the current form of a flow.
func (m *Manager) Get(flowID string) (*Result, error) {
	inst, err := m.lookup(flowID)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.done {
		return nil, ErrFlowNotFound
	}
	return inst.last, nil
}

// Abort discards a flow.
func (m *Manager) Abort(flowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flows[flowID]; !ok {
		return ErrFlowNotFound
	}
	delete(m.flows, flowID)
	log.Debug().Str("flow_id", flowID).Msg("Flow aborted")
	return nil
}

// Len returns the number of flows in progress.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()
	return len(m.flows)
}

func (m *Manager) lookup(flowID string) (*instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked()

	inst, ok := m.flows[flowID]
	if !ok {
		return nil, ErrFlowNotFound
	}
	inst.touched = m.now()
	return inst, nil
}

func (m *Manager) active(inst *instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flows[inst.id] == inst
}

// finish renders res and drops the flow once it has terminated.
func (m *Manager) finish(inst *instance, res *Result) *Result {
	res.FlowID = inst.id
	res.Kind = inst.kind
	m.strings.render(inst.kind, res)

	if res.Type == ResultForm {
		inst.last = res
		return res
	}

	inst.done = true
	m.mu.Lock()
	delete(m.flows, inst.id)
	m.mu.Unlock()

	log.Info().
		Str("flow_id", inst.id).
		Str("kind", string(inst.kind)).
		Str("result", string(res.Type)).
		Str("entry_id", res.EntryID).
		Msg("Flow finished")
	return res
}

func (m *Manager) purgeLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, inst := range m.flows {
		if inst.touched.Before(cutoff) {
			delete(m.flows, id)
			log.Debug().Str("flow_id", id).Msg("Flow expired")
		}
	}
}
