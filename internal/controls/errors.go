package controls

import "errors"

// ErrUnavailable marks a reading that could not be produced in a refresh.
var ErrUnavailable = errors.New("value unavailable")
