package catalog

import "errors"

var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrInvalidCatalog  = errors.New("invalid catalog")
)
