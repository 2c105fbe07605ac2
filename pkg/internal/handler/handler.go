package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/jdziat/simple-durable-workflows/pkg/core"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Handler holds metadata about a registered function.
type Handler struct {
	Fn          reflect.Value
	PayloadType reflect.Type   // nil when the function takes no payload
	DepTypes    []reflect.Type // injected parameters after the payload
	ResultType  reflect.Type   // nil when the function returns only error
}

// IsDep classifies a parameter type as an injected dependency.
type IsDep func(reflect.Type) bool

// Resolve produces a value for an injected dependency.
type Resolve func(reflect.Type) (reflect.Value, error)

// NewHandler creates a Handler from a function whose first parameter is
// assignable from first. The signature must be
// func(first[, payload][, deps...]) error or func(first[, payload][, deps...]) (R, error).
// A nil isDep rejects every parameter after the payload.
func NewHandler(fn any, first reflect.Type, isDep IsDep) (*Handler, error) {
	if fn == nil {
		return nil, errors.New("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, errors.New("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, errors.New("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	if fnType.IsVariadic() {
		return nil, errors.New("handler must not be variadic")
	}
	if fnType.NumIn() < 1 || fnType.In(0) != first {
		return nil, fmt.Errorf("handler must take %s as its first argument", first)
	}

	h := &Handler{Fn: fnVal}
	for i := 1; i < fnType.NumIn(); i++ {
		in := fnType.In(i)
		if isDep != nil && isDep(in) {
			h.DepTypes = append(h.DepTypes, in)
			continue
		}
		if i != 1 {
			if h.PayloadType != nil {
				return nil, fmt.Errorf("handler takes at most one payload argument, found %s after %s", in, h.PayloadType)
			}
			return nil, fmt.Errorf("argument %d (%s) has no registered dependency provider", i, in)
		}
		h.PayloadType = in
	}

	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) != errorType {
			return nil, errors.New("handler must return error")
		}
	case 2:
		if fnType.Out(1) != errorType {
			return nil, errors.New("handler must return (T, error)")
		}
		h.ResultType = fnType.Out(0)
	default:
		return nil, errors.New("handler must return error or (T, error)")
	}

	return h, nil
}

// DecodePayload unmarshals a stored input body into the payload type.
func (h *Handler) DecodePayload(body []byte) (reflect.Value, error) {
	if h.PayloadType == nil {
		return reflect.Value{}, nil
	}
	ptr := reflect.New(h.PayloadType)
	if len(body) > 0 && string(body) != "null" {
		if err := json.Unmarshal(body, ptr.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return ptr.Elem(), nil
}

// Call invokes the function with first as its leading argument, the decoded
// payload and resolved dependencies. Panics are returned as *core.PanicError.
func (h *Handler) Call(first any, body []byte, resolve Resolve) (result any, err error) {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return nil, errors.New("handler function is nil or invalid")
	}

	args := []reflect.Value{reflect.ValueOf(first)}
	if h.PayloadType != nil {
		payload, err := h.DecodePayload(body)
		if err != nil {
			return nil, err
		}
		args = append(args, payload)
	}
	for _, t := range h.DepTypes {
		if resolve == nil {
			return nil, fmt.Errorf("no resolver for dependency %s", t)
		}
		v, err := resolve(t)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", t, err)
		}
		args = append(args, v)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &core.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()

	out := h.Fn.Call(args)
	last := out[len(out)-1]
	if !last.IsNil() {
		return nil, last.Interface().(error)
	}
	if h.ResultType != nil {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// EncodeResult serializes a function result for storage.
func EncodeResult(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode unmarshals a stored body into T. An empty body yields the zero value.
func Decode[T any](body []byte) (T, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return v, nil
}

// Describe renders an error for persistence: the message and a stack when
// one was captured.
func Describe(err error) (message, stack string) {
	if err == nil {
		return "", ""
	}
	var pe *core.PanicError
	if errors.As(err, &pe) {
		return err.Error(), pe.Stack
	}
	var ae *core.ActionError
	if errors.As(err, &ae) {
		return err.Error(), ae.Stack
	}
	return err.Error(), fmt.Sprintf("%T: %v", err, err)
}
