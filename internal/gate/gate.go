// Package gate keeps protected views from rendering for callers without a
// live session.
//
// Every activation starts Unknown and moves exactly once to Authenticated or
// Unauthenticated when its session lookup resolves. A failing lookup counts
// as "no session". While Unknown only the placeholder renders; once
// Unauthenticated the redirect fires a single time and nothing else renders.
package gate

import (
	"context"
	"fmt"
	"sync"

	"github.com/sakif/course-portal/internal/model"
)

// State is an activation's session state.
type State int32

const (
	Unknown State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Render names what an activation rendered.
type Render int

const (
	RenderPlaceholder Render = iota
	RenderProtected
	RenderRedirect
)

// Lookup resolves the caller's session: (nil, nil) means no session, an
// error means the answer could not be determined.
type Lookup func(ctx context.Context) (*model.Session, error)

// View is a protected view together with its fallback behaviors.
type View interface {
	// Placeholder renders the neutral loading state.
	Placeholder()
	// Protected renders the view for an authenticated caller.
	Protected(sess *model.Session)
	// Redirect sends the caller to the unauthenticated landing page.
	Redirect()
}

// ViewFuncs adapts plain functions to View. Nil funcs render nothing.
type ViewFuncs struct {
	OnPlaceholder func()
	OnProtected   func(*model.Session)
	OnRedirect    func()
}

func (v ViewFuncs) Placeholder() {
	if v.OnPlaceholder != nil {
		v.OnPlaceholder()
	}
}

func (v ViewFuncs) Protected(sess *model.Session) {
	if v.OnProtected != nil {
		v.OnProtected(sess)
	}
}

func (v ViewFuncs) Redirect() {
	if v.OnRedirect != nil {
		v.OnRedirect()
	}
}

// Observer is told about transitions and renders, in order. It must not
// call back into the activation.
type Observer interface {
	Transitioned(from, to State)
	Rendered(r Render)
}

type nopObserver struct{}

func (nopObserver) Transitioned(State, State) {}
func (nopObserver) Rendered(Render)           {}

// Activation is one pass of the gate over a view.
type Activation struct {
	mu         sync.Mutex
	state      State
	session    *model.Session
	err        error
	redirected bool
	done       chan struct{}
	closeDone  sync.Once
	observer   Observer
}

func newActivation(observer Observer) *Activation {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Activation{done: make(chan struct{}), observer: observer}
}

// Start begins an activation and resolves it in the background with a
// fresh lookup. If ctx ends before the lookup returns, the result is
// discarded and the activation stays Unknown.
func Start(ctx context.Context, lookup Lookup, observer Observer) *Activation {
	a := newActivation(observer)
	go a.run(ctx, lookup)
	return a
}

// Resolve runs an activation to completion. The returned activation is
// Unknown only when ctx ended first.
func Resolve(ctx context.Context, lookup Lookup, observer Observer) *Activation {
	a := newActivation(observer)
	a.run(ctx, lookup)
	return a
}

func (a *Activation) run(ctx context.Context, lookup Lookup) {
	defer a.closeDone.Do(func() { close(a.done) })

	sess, err := safeLookup(ctx, lookup)
	if ctx.Err() != nil {
		return
	}
	a.resolve(sess, err)
}

func safeLookup(ctx context.Context, lookup Lookup) (sess *model.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("gate: session lookup panicked: %v", r)
		}
	}()
	return lookup(ctx)
}

// resolve performs the single transition out of Unknown. Later calls are
// ignored.
func (a *Activation) resolve(sess *model.Session, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Unknown {
		return
	}
	if err != nil || sess == nil {
		a.state, a.err = Unauthenticated, err
	} else {
		a.state, a.session = Authenticated, sess
	}
	a.observer.Transitioned(Unknown, a.state)
}

// Done is closed once the lookup finished or was abandoned.
func (a *Activation) Done() <-chan struct{} {
	return a.done
}

func (a *Activation) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Session is the resolved session, nil unless Authenticated.
func (a *Activation) Session() *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Err is the lookup error that made the activation fail closed, if any.
func (a *Activation) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Render dispatches on the current state. It may be called any number of
// times; the redirect side effect happens at most once per activation.
func (a *Activation) Render(v View) {
	a.mu.Lock()
	state, sess := a.state, a.session
	redirect := state == Unauthenticated && !a.redirected
	if redirect {
		a.redirected = true
	}
	a.mu.Unlock()

	switch state {
	case Unknown:
		a.observer.Rendered(RenderPlaceholder)
		v.Placeholder()
	case Authenticated:
		a.observer.Rendered(RenderProtected)
		v.Protected(sess)
	case Unauthenticated:
		if redirect {
			a.observer.Rendered(RenderRedirect)
			v.Redirect()
		}
	}
}
