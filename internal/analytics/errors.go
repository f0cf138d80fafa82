package analytics

import "errors"

var (
	ErrEmptySourceSet     = errors.New("no sources configured")
	ErrDuplicateSource    = errors.New("duplicate source")
	ErrInvalidSource      = errors.New("invalid source name")
	ErrUnknownSource      = errors.New("unknown source")
	ErrNonMonotonicUpdate = errors.New("timestamp not after previous update")
	ErrStopped            = errors.New("engine stopped")
)
