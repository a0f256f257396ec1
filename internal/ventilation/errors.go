package ventilation

import "errors"

var (
	ErrInvalidStage  = errors.New("invalid fan stage")
	ErrInvalidMode   = errors.New("invalid operating mode")
	ErrInvalidPreset = errors.New("invalid preset")
)
