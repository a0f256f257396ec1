package transcode

import (
	"errors"
	"fmt"
)

var (
	ErrEncoding         = errors.New("encoding error")
	ErrDecoding         = errors.New("decoding error")
	ErrVariableMismatch = errors.New("device answered another variable")
)

// ErrReadOnly is returned when encoding a value for a read-only variable.
var ErrReadOnly = fmt.Errorf("%w: variable is read-only", ErrEncoding)
