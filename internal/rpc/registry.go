package rpc

import (
	"fmt"
	"reflect"

	gojson "github.com/goccy/go-json"
)

// procedure pairs a registered function with the reflected shape
// Registry needs to unpack JSON parameters positionally into it: Invoke
// unmarshals parameters[i] into a freshly allocated reflect.Value of
// fn's i'th argument type at call time.
type procedure struct {
	fn  reflect.Value
	typ reflect.Type
}

// Registry is the RPC method table. Register(name, fn) accepts any
// function value; Invoke looks it up by name, unpacks JSON parameters
// positionally, calls it, and marshals the (single) return value.
type Registry struct {
	procs map[string]procedure
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

// NewRegistry returns an empty method table.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]procedure)}
}

// Register adds fn under name. fn must be a function with 0 or more
// parameters and at most one value return; a trailing error return is
// also accepted, and a non-nil error fails the call instead of being
// marshaled. Panics if fn is not a function -- a programming error
// caught at startup, not a runtime RPC failure.
func (r *Registry) Register(name string, fn interface{}) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("rpc: Register(%q): not a function", name))
	}
	r.procs[name] = procedure{fn: v, typ: v.Type()}
}

// Invoke looks up name and, if found, unpacks params positionally into
// fn's declared parameter types, calls fn, and marshals its first return
// value (if any) to JSON.
func (r *Registry) Invoke(name string, params []gojson.RawMessage) (gojson.RawMessage, error) {
	proc, ok := r.procs[name]
	if !ok {
		return nil, ErrMethodNotFound
	}

	numIn := proc.typ.NumIn()
	if len(params) < numIn {
		return nil, fmt.Errorf("rpc: %s: expected %d parameters, got %d", name, numIn, len(params))
	}

	args := make([]reflect.Value, numIn)
	for i := 0; i < numIn; i++ {
		argType := proc.typ.In(i)
		argPtr := reflect.New(argType)
		if err := gojson.Unmarshal(params[i], argPtr.Interface()); err != nil {
			return nil, fmt.Errorf("rpc: %s: parameter %d: %w", name, i, err)
		}
		args[i] = argPtr.Elem()
	}

	results, err := r.call(proc.fn, args)
	if err != nil {
		return nil, err
	}
	numOut := proc.typ.NumOut()
	if numOut > 0 && proc.typ.Out(numOut-1).Implements(errType) {
		if ev := results[numOut-1]; !ev.IsNil() {
			return nil, ev.Interface().(error)
		}
		results = results[:numOut-1]
	}
	if len(results) == 0 {
		return gojson.Marshal(nil)
	}
	return gojson.Marshal(results[0].Interface())
}

// call invokes fn, recovering a panicking procedure body into a plain
// error so one misbehaving method cannot take the worker down.
func (r *Registry) call(fn reflect.Value, args []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	results = fn.Call(args)
	return results, nil
}
