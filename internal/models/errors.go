package models

import "errors"

var (
	// ErrNotFound is returned when an id does not exist in the backing store.
	ErrNotFound = errors.New("time series not found")
	// ErrAlreadyExists is returned when adding an id that is already present.
	ErrAlreadyExists = errors.New("time series already exists")
	// ErrInvalidInterval is returned when a range has from >= to.
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrUnsupportedValueType is returned when no aggregation or
	// interpolation rule exists for a value type.
	ErrUnsupportedValueType = errors.New("unsupported value type")
	// ErrInvalidArgument covers any other caller error.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IsNotFound reports whether err means the addressed series does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid reports whether err is a caller error other than not-found.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnsupportedValueType) ||
		errors.Is(err, ErrAlreadyExists)
}
