package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/vango-dev/syncore/internal/errors"
)

// Reserved bundle names.
const (
	// EagerBundle is loaded when the client starts.
	EagerBundle = "eager"

	// DeferredBundle is loaded after the first message has been applied.
	DeferredBundle = "deferred"
)

// State is the load state of a bundle.
type State int

const (
	NotStarted State = iota
	Loading
	Loaded
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Loading:
		return "LOADING"
	case Loaded:
		return "LOADED"
	case Failed:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrLoadFailed matches every LoadError with errors.Is.
var ErrLoadFailed = errors.New("S401")

// LoadError reports a failed bundle load. The cause stays reachable through
// Unwrap.
type LoadError struct {
	Bundle string
	Err    error
}

func (e *LoadError) Error() string {
	return "failed to load bundle " + e.Bundle + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrLoadFailed.
func (e *LoadError) Is(target error) bool {
	return errors.Is(ErrLoadFailed, target)
}

// Callback is notified when a bundle finishes loading.
type Callback interface {
	Loaded()
	Failed(err error)
}

// Funcs adapts a pair of functions to Callback. Either may be nil.
type Funcs struct {
	OnLoaded func()
	OnFailed func(error)
}

// Loaded calls OnLoaded.
func (f Funcs) Loaded() {
	if f.OnLoaded != nil {
		f.OnLoaded()
	}
}

// Failed calls OnFailed.
func (f Funcs) Failed(err error) {
	if f.OnFailed != nil {
		f.OnFailed(err)
	}
}

// Bundle declares a bundle and the type identifiers it provides.
type Bundle struct {
	Name        string
	Identifiers []string
}

// Observer receives load events, typically for metrics.
type Observer interface {
	BundleLoaded(name string)
	BundleFailed(name string)
}

type entry struct {
	bundle    Bundle
	state     State
	callbacks []Callback
	err       error
}

// Loader tracks bundle load states and fans out completion callbacks.
// It performs no locking: all calls, including completions delivered
// through the post hook, must come from one goroutine at a time.
type Loader struct {
	entries      map[string]*entry
	byIdentifier map[string]string
	store        *TypeDataStore
	source       Source
	post         func(func())
	ctx          context.Context
	observer     Observer
	logger       *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithPost makes the loader fetch in the background and deliver
// completions through post, which must run them on the loader's goroutine.
// Without it fetches run synchronously inside LoadBundle.
func WithPost(post func(func())) Option {
	return func(l *Loader) {
		l.post = post
	}
}

// WithContext sets the context passed to the source.
func WithContext(ctx context.Context) Option {
	return func(l *Loader) {
		l.ctx = ctx
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver sets the load event observer.
func WithObserver(o Observer) Option {
	return func(l *Loader) {
		l.observer = o
	}
}

// NewLoader creates a loader for a fixed set of bundles. Duplicate bundle
// names or identifiers claimed by two bundles panic.
func NewLoader(source Source, bundles []Bundle, opts ...Option) *Loader {
	l := &Loader{
		entries:      make(map[string]*entry, len(bundles)),
		byIdentifier: make(map[string]string),
		store:        NewTypeDataStore(),
		source:       source,
		ctx:          context.Background(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "bundle_loader")

	for _, b := range bundles {
		if _, dup := l.entries[b.Name]; dup {
			errors.Panicf("S208", "bundle %s declared twice", b.Name)
		}
		l.entries[b.Name] = &entry{bundle: b}
		for _, id := range b.Identifiers {
			if other, dup := l.byIdentifier[id]; dup {
				errors.Panicf("S208", "type %s is in bundles %s and %s", id, other, b.Name)
			}
			l.byIdentifier[id] = b.Name
		}
	}
	return l
}

func (l *Loader) lookup(name string) *entry {
	e, ok := l.entries[name]
	if !ok {
		errors.Panicf("S203", "bundle %s not recognized", name)
	}
	return e
}

// LoadBundle makes sure the named bundle is loaded and notifies cb, which
// may be nil. A loaded or failed bundle notifies cb immediately; a loading
// bundle queues cb; a bundle not started yet starts loading. Unknown names
// panic.
func (l *Loader) LoadBundle(name string, cb Callback) {
	e := l.lookup(name)

	switch e.state {
	case NotStarted:
		e.state = Loading
		if cb != nil {
			e.callbacks = append(e.callbacks, cb)
		}
		l.fetch(e.bundle.Name)
	case Loading:
		if cb != nil {
			e.callbacks = append(e.callbacks, cb)
		}
	case Loaded:
		if cb != nil {
			l.notify(name, []Callback{cb}, nil)
		}
	case Failed:
		if cb != nil {
			l.notify(name, []Callback{cb}, e.err)
		}
	}
}

func (l *Loader) fetch(name string) {
	l.logger.Debug("loading bundle", "bundle", name)

	if l.post == nil {
		data, err := l.source.Fetch(l.ctx, name)
		l.complete(name, data, err)
		return
	}

	go func() {
		data, err := l.source.Fetch(l.ctx, name)
		l.post(func() { l.complete(name, data, err) })
	}()
}

func (l *Loader) complete(name string, data []byte, err error) {
	if err != nil {
		l.SetLoadFailure(name, err)
		return
	}
	payload, err := DecodePayload(data)
	if err != nil {
		l.SetLoadFailure(name, err)
		return
	}
	l.store.Add(payload)
	l.SetLoaded(name)
}

// SetLoaded marks the bundle loaded and notifies the queued callbacks in
// order.
func (l *Loader) SetLoaded(name string) {
	e := l.lookup(name)
	if e.state == Loaded || e.state == Failed {
		errors.Panicf("S205", "bundle %s completed twice (state %s)", name, e.state)
	}

	e.state = Loaded
	callbacks := e.callbacks
	e.callbacks = nil

	if l.observer != nil {
		l.observer.BundleLoaded(name)
	}
	l.logger.Debug("bundle loaded", "bundle", name, "callbacks", len(callbacks))
	l.notify(name, callbacks, nil)
}

// SetLoadFailure marks the bundle failed and notifies the queued callbacks
// in order with a LoadError wrapping cause.
func (l *Loader) SetLoadFailure(name string, cause error) {
	e := l.lookup(name)
	if e.state == Loaded || e.state == Failed {
		errors.Panicf("S205", "bundle %s completed twice (state %s)", name, e.state)
	}

	err := &LoadError{Bundle: name, Err: cause}
	e.state = Failed
	e.err = err
	callbacks := e.callbacks
	e.callbacks = nil

	if l.observer != nil {
		l.observer.BundleFailed(name)
	}
	l.logger.Error("bundle load failed", "bundle", name, "error", cause)
	l.notify(name, callbacks, err)
}

// notify calls every callback, isolating panics so one bad callback does not
// keep the others from running.
func (l *Loader) notify(name string, callbacks []Callback, err error) {
	for i, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("bundle callback panicked", "bundle", name, "index", i, "panic", r)
				}
			}()
			if err != nil {
				cb.Failed(err)
			} else {
				cb.Loaded()
			}
		}()
	}
}

// IsBundleLoaded reports whether the named bundle has loaded. Unknown names
// panic.
func (l *Loader) IsBundleLoaded(name string) bool {
	return l.lookup(name).state == Loaded
}

// State returns the load state of the named bundle. Unknown names panic.
func (l *Loader) State(name string) State {
	return l.lookup(name).state
}

// Err returns the failure of the named bundle, or nil.
func (l *Loader) Err(name string) error {
	return l.lookup(name).err
}

// BundleForIdentifier returns the bundle that provides a type identifier.
func (l *Loader) BundleForIdentifier(identifier string) (string, bool) {
	name, ok := l.byIdentifier[identifier]
	return name, ok
}

// Declared reports whether a bundle with the given name exists.
func (l *Loader) Declared(name string) bool {
	_, ok := l.entries[name]
	return ok
}

// Names returns every declared bundle name, sorted.
func (l *Loader) Names() []string {
	return slices.Sorted(maps.Keys(l.entries))
}

// TypeDataStore returns the metadata of loaded types.
func (l *Loader) TypeDataStore() *TypeDataStore {
	return l.store
}

// Require loads every bundle needed by the given type identifiers and
// notifies cb once: Loaded when all of them are loaded, Failed with the
// first failure. Identifiers no bundle claims need nothing.
func (l *Loader) Require(identifiers []string, cb Callback) {
	needed := make(map[string]struct{})
	for _, id := range identifiers {
		if name, ok := l.byIdentifier[id]; ok && !l.IsBundleLoaded(name) {
			needed[name] = struct{}{}
		}
	}
	if len(needed) == 0 {
		l.notify("", []Callback{cb}, nil)
		return
	}

	remaining := len(needed)
	done := false
	for _, name := range slices.Sorted(maps.Keys(needed)) {
		l.LoadBundle(name, Funcs{
			OnLoaded: func() {
				remaining--
				if remaining == 0 && !done {
					done = true
					cb.Loaded()
				}
			},
			OnFailed: func(err error) {
				if !done {
					done = true
					cb.Failed(err)
				}
			},
		})
	}
}
