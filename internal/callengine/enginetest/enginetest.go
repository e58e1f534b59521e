// Package enginetest provides a scriptable callengine.Engine for tests.
package enginetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/vovakirdan/wirecall/internal/callengine"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/proto"
)

// Registration is a fake callengine.Registration.
type Registration struct {
	identity string
	done     chan struct{}

	mu       sync.Mutex
	releases int
	finished bool
}

func newRegistration(identity string) *Registration {
	return &Registration{identity: identity, done: make(chan struct{})}
}

func (r *Registration) Identity() string { return r.identity }

func (r *Registration) Release() error {
	r.mu.Lock()
	r.releases++
	r.finishLocked()
	r.mu.Unlock()
	return nil
}

func (r *Registration) Done() <-chan struct{} { return r.done }

// Drop simulates losing the transport connection behind the binding.
func (r *Registration) Drop() {
	r.mu.Lock()
	r.finishLocked()
	r.mu.Unlock()
}

func (r *Registration) finishLocked() {
	if !r.finished {
		r.finished = true
		close(r.done)
	}
}

// Released reports whether Release was called at least once.
func (r *Registration) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases > 0
}

// Handle is a fake callengine.Handle. Tests drive it with EmitStream,
// EmitClose and EmitError.
type Handle struct {
	id     string
	Remote string
	Local  media.Stream
	Meta   proto.CallMetadata

	events chan callengine.Event

	mu        sync.Mutex
	closed    bool
	closes    int
	answered  media.Stream
	answerErr error
	closeErr  error
	terminal  bool
}

// NewHandle returns an open handle with a buffered event channel.
func NewHandle() *Handle {
	return &Handle{id: uuid.NewString(), events: make(chan callengine.Event, 8)}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Events() <-chan callengine.Event { return h.events }

// FailAnswer makes Answer return err.
func (h *Handle) FailAnswer(err error) {
	h.mu.Lock()
	h.answerErr = err
	h.mu.Unlock()
}

// FailClose makes Close return err. The handle still counts as closed.
func (h *Handle) FailClose(err error) {
	h.mu.Lock()
	h.closeErr = err
	h.mu.Unlock()
}

func (h *Handle) Answer(local media.Stream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return callengine.ErrHandleClosed
	}
	if h.answerErr != nil {
		return h.answerErr
	}
	h.answered = local
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	h.closed = true
	return h.closeErr
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Answered returns the stream passed to Answer, or nil.
func (h *Handle) Answered() media.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answered
}

// EmitStream delivers a remote stream event.
func (h *Handle) EmitStream(s media.Stream) {
	h.emit(callengine.Event{Kind: callengine.EventStream, Stream: s}, false)
}

// EmitClose delivers the terminal close event.
func (h *Handle) EmitClose() {
	h.emit(callengine.Event{Kind: callengine.EventClose}, true)
}

// EmitError delivers the terminal error event.
func (h *Handle) EmitError(err error) {
	h.emit(callengine.Event{Kind: callengine.EventError, Err: err}, true)
}

func (h *Handle) emit(ev callengine.Event, terminal bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminal {
		return
	}
	h.events <- ev
	if terminal {
		h.terminal = true
		close(h.events)
	}
}

// Engine is a fake callengine.Engine.
type Engine struct {
	mu         sync.Mutex
	results    []error
	regGate    chan struct{}
	regEntered chan string
	attempts   []string
	regs       []*Registration
	openErr    error
	opened     []*Handle
	incoming   func(*callengine.Offer)
}

// New returns an Engine that accepts every registration.
func New() *Engine {
	return &Engine{regEntered: make(chan string, 64)}
}

// QueueRegister scripts the results of the next Register calls, in order.
// A nil entry accepts; once the queue is empty every call is accepted.
func (e *Engine) QueueRegister(results ...error) {
	e.mu.Lock()
	e.results = append(e.results, results...)
	e.mu.Unlock()
}

// BlockRegister makes Register wait until the returned release func is
// called, like a slow round trip to the signaling server.
func (e *Engine) BlockRegister() (release func()) {
	gate := make(chan struct{})
	e.mu.Lock()
	e.regGate = gate
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			if e.regGate == gate {
				e.regGate = nil
			}
			e.mu.Unlock()
			close(gate)
		})
	}
}

// RegisterEntered yields the identity of every Register call as it starts.
func (e *Engine) RegisterEntered() <-chan string { return e.regEntered }

// FailOpen makes Open return err.
func (e *Engine) FailOpen(err error) {
	e.mu.Lock()
	e.openErr = err
	e.mu.Unlock()
}

func (e *Engine) Register(_ context.Context, identity string) (callengine.Registration, error) {
	e.mu.Lock()
	e.attempts = append(e.attempts, identity)
	gate := e.regGate
	var result error
	if len(e.results) > 0 {
		result = e.results[0]
		e.results = e.results[1:]
	}
	e.mu.Unlock()

	select {
	case e.regEntered <- identity:
	default:
	}
	if gate != nil {
		<-gate
	}

	if result != nil {
		return nil, result
	}
	reg := newRegistration(identity)
	e.mu.Lock()
	e.regs = append(e.regs, reg)
	e.mu.Unlock()
	return reg, nil
}

func (e *Engine) Open(_ context.Context, remote string, local media.Stream, md proto.CallMetadata) (callengine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	h := NewHandle()
	h.Remote = remote
	h.Local = local
	h.Meta = md
	e.opened = append(e.opened, h)
	return h, nil
}

func (e *Engine) OnIncoming(fn func(*callengine.Offer)) {
	e.mu.Lock()
	e.incoming = fn
	e.mu.Unlock()
}

// Offer delivers an inbound offer with the given raw metadata and returns
// its handle.
func (e *Engine) Offer(from string, metadata string) *Handle {
	h := NewHandle()
	h.Remote = from
	e.mu.Lock()
	fn := e.incoming
	e.mu.Unlock()
	if fn != nil {
		fn(&callengine.Offer{From: from, Metadata: json.RawMessage(metadata), Handle: h})
	}
	return h
}

// Attempts returns the identities passed to Register, in call order.
func (e *Engine) Attempts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.attempts))
	copy(out, e.attempts)
	return out
}

// Registrations returns every accepted registration.
func (e *Engine) Registrations() []*Registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Registration, len(e.regs))
	copy(out, e.regs)
	return out
}

// Live returns the accepted registrations not yet released.
func (e *Engine) Live() []*Registration {
	var out []*Registration
	for _, r := range e.Registrations() {
		if !r.Released() {
			out = append(out, r)
		}
	}
	return out
}

// Opened returns every handle created by Open.
func (e *Engine) Opened() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Handle, len(e.opened))
	copy(out, e.opened)
	return out
}

// LastOpened returns the most recent outgoing handle, or nil.
func (e *Engine) LastOpened() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.opened) == 0 {
		return nil
	}
	return e.opened[len(e.opened)-1]
}

var (
	_ callengine.Engine       = (*Engine)(nil)
	_ callengine.Handle       = (*Handle)(nil)
	_ callengine.Registration = (*Registration)(nil)
)
