package model

import "errors"

var (
	// ErrMomentEndsBeforeStart is returned when a moment's end timestamp
	// precedes its start timestamp.
	ErrMomentEndsBeforeStart = errors.New("moment ends before it starts")

	// ErrUnknownModel is returned by the registry for a name it has no
	// descriptor for.
	ErrUnknownModel = errors.New("unknown model")
)
