package usecase

import (
	"fmt"

	"github.com/example/fingerprint-match/internal/matcher"
)

// UnavailableError reports a collaborator that failed to initialize at startup.
type UnavailableError struct {
	Component string
	Err       error
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s unavailable", e.Component)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Component, e.Err)
}

// Unwrap exposes both matcher.ErrDependencyUnavailable and the startup cause.
func (e *UnavailableError) Unwrap() []error {
	if e.Err == nil {
		return []error{matcher.ErrDependencyUnavailable}
	}
	return []error{matcher.ErrDependencyUnavailable, e.Err}
}

// Dependency holds either a ready collaborator or the reason it is missing.
// The zero value is unavailable.
type Dependency[T any] struct {
	name  string
	value T
	ready bool
	err   error
}

// Ready wraps an initialized collaborator.
func Ready[T any](name string, value T) Dependency[T] {
	return Dependency[T]{name: name, value: value, ready: true}
}

// Unavailable records why a collaborator could not be built.
func Unavailable[T any](name string, cause error) Dependency[T] {
	return Dependency[T]{name: name, err: &UnavailableError{Component: name, Err: cause}}
}

// Get returns the collaborator, or an *UnavailableError.
func (d Dependency[T]) Get() (T, error) {
	return d.value, d.Err()
}

// Err returns nil when the collaborator is ready.
func (d Dependency[T]) Err() error {
	if d.ready {
		return nil
	}
	if d.err != nil {
		return d.err
	}
	name := d.name
	if name == "" {
		name = "dependency"
	}
	return &UnavailableError{Component: name}
}
