package optional

import "github.com/pkg/errors"

var ErrEmptyOptional = errors.New("optional value is empty")

// Optional holds a value of type T that may be absent. The zero value is
// absent, so an unset struct field behaves the same as Empty.
type Optional[T any] struct {
	value   T
	present bool
}

func Of[T any](value T) Optional[T] {
	return Optional[T]{value: value, present: true}
}

func Empty[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) IsPresent() bool {
	return o.present
}

func (o Optional[T]) Get() (T, error) {
	if !o.present {
		var empty T
		return empty, ErrEmptyOptional
	}
	return o.value, nil
}

func (o Optional[T]) GetOrDefault(defaultValue T) T {
	if !o.present {
		return defaultValue
	}
	return o.value
}
