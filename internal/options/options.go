// Package options lets the public surface packages share optional-argument
// machinery. A single With* function can satisfy several per-method option
// interfaces because its concrete value implements CallOption.
package options

import "fmt"

// CallOption implements an optional argument to a method call.
type CallOption interface {
	// Do applies the option to its target, returning an error when that's impossible.
	Do(any) error

	callOption()
}

// ApplyOptions applies all the callOptions to options. options must be a pointer to a struct and
// callOptions must be a list of objects that implement CallOption.
func ApplyOptions[O, C any](options O, callOptions []C) error {
	for _, o := range callOptions {
		if t, ok := any(o).(CallOption); !ok {
			return fmt.Errorf("unexpected option type %T", o)
		} else if err := t.Do(options); err != nil {
			return err
		}
	}
	return nil
}

// NewCallOption returns a new CallOption whose Do() method calls function "d". If "e" is not nil,
// the option's Do() method returns "e" instead, surfacing a construction error at call time.
func NewCallOption(d func(any) error, e error) CallOption {
	if e != nil {
		return errorOption{err: e}
	}
	return callOption(d)
}

// callOption is an adapter for a function to a CallOption.
type callOption func(any) error

func (c callOption) Do(a any) error {
	return c(a)
}

func (callOption) callOption() {}

// errorOption is a CallOption that, when applied, returns an error.
type errorOption struct{ err error }

func (e errorOption) Do(any) error {
	return e.err
}

func (errorOption) callOption() {}
