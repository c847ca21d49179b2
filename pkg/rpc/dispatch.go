package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vango-dev/syncore/internal/errors"
	"github.com/vango-dev/syncore/pkg/protocol"
)

// ErrUnknownMethod is returned when an invocation names a method with no
// registered handler.
var ErrUnknownMethod = errors.New("S202")

// ErrInvalidArguments is returned when an argument list does not decode
// into the handler's parameters.
var ErrInvalidArguments = errors.New("S105")

// Handler runs one invocation on its target connector.
type Handler func(target any, args []json.RawMessage) error

// ResolveFunc resolves a connector id to the object that receives calls.
type ResolveFunc func(connectorID string) (any, bool)

// Dispatcher routes invocations to handlers without reflection.
type Dispatcher struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "rpc_dispatcher"),
	}
}

func handlerKey(iface, method string) string {
	return iface + "." + method
}

// Register installs h for a declared method of iface. Registering an
// undeclared method or registering twice panics.
func (d *Dispatcher) Register(iface *Interface, method string, h Handler) {
	if _, ok := iface.Method(method); !ok {
		errors.Panicf("S202", "%s has no method %s", iface.Name(), method)
	}
	key := handlerKey(iface.Name(), method)
	if _, dup := d.handlers[key]; dup {
		errors.Panicf("S208", "handler for %s registered twice", key)
	}
	d.handlers[key] = h
}

// Dispatch runs inv against the connector resolve returns. An invocation for
// a connector that no longer exists is skipped: it was detached while the
// call was in flight.
func (d *Dispatcher) Dispatch(inv protocol.Invocation, resolve ResolveFunc) error {
	h, ok := d.handlers[handlerKey(inv.Interface, inv.Method)]
	if !ok {
		return errors.New("S202").WithMessagef("no handler for %s.%s", inv.Interface, inv.Method)
	}
	target, ok := resolve(inv.ConnectorID)
	if !ok {
		d.logger.Warn("ignoring rpc for unknown connector",
			"connector_id", inv.ConnectorID,
			"method", handlerKey(inv.Interface, inv.Method))
		return nil
	}
	if err := h(target, inv.Args); err != nil {
		return fmt.Errorf("rpc %s: %w", inv, err)
	}
	return nil
}

// DispatchAll dispatches invocations in order and stops at the first error.
func (d *Dispatcher) DispatchAll(invs []protocol.Invocation, resolve ResolveFunc) error {
	for _, inv := range invs {
		if err := d.Dispatch(inv, resolve); err != nil {
			return err
		}
	}
	return nil
}

func targetAs[T any](target any) (T, error) {
	t, ok := target.(T)
	if !ok {
		var zero T
		return zero, errors.New("S105").WithMessagef("target %T is not a %T", target, zero)
	}
	return t, nil
}

func checkArity(args []json.RawMessage, n int) error {
	if len(args) != n {
		return errors.New("S105").WithMessagef("got %d arguments, want %d", len(args), n)
	}
	return nil
}

func decodeArg[A any](args []json.RawMessage, i int) (A, error) {
	var a A
	if err := json.Unmarshal(args[i], &a); err != nil {
		return a, errors.New("S105").WithMessagef("argument %d", i).Wrap(err)
	}
	return a, nil
}

// Method0 adapts a method without arguments.
func Method0[T any](fn func(T) error) Handler {
	return func(target any, args []json.RawMessage) error {
		t, err := targetAs[T](target)
		if err != nil {
			return err
		}
		if err := checkArity(args, 0); err != nil {
			return err
		}
		return fn(t)
	}
}

// Method1 adapts a method with one argument.
func Method1[T, A any](fn func(T, A) error) Handler {
	return func(target any, args []json.RawMessage) error {
		t, err := targetAs[T](target)
		if err != nil {
			return err
		}
		if err := checkArity(args, 1); err != nil {
			return err
		}
		a, err := decodeArg[A](args, 0)
		if err != nil {
			return err
		}
		return fn(t, a)
	}
}

// Method2 adapts a method with two arguments.
func Method2[T, A, B any](fn func(T, A, B) error) Handler {
	return func(target any, args []json.RawMessage) error {
		t, err := targetAs[T](target)
		if err != nil {
			return err
		}
		if err := checkArity(args, 2); err != nil {
			return err
		}
		a, err := decodeArg[A](args, 0)
		if err != nil {
			return err
		}
		b, err := decodeArg[B](args, 1)
		if err != nil {
			return err
		}
		return fn(t, a, b)
	}
}
