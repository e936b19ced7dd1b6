// Package projection implements the projector state machine and the
// supervising ProjectionManager, built on top of package eventstore. It
// lives above eventstore (not inside it) to avoid an import cycle:
// eventstore must never import projection.
package projection

import "github.com/pkg/errors"

// Build-phase misuse errors.
var (
	ErrAlreadyInitialized  = errors.New("projection: init already called")
	ErrFromAlreadyCalled   = errors.New("projection: fromAll/fromStream/fromStreams already called")
	ErrWhenAlreadyCalled   = errors.New("projection: when/whenAny already called")
	ErrNoHandler           = errors.New("projection: no handler registered")
	ErrStateNotInitialised = errors.New("projection: state not initialised")
)
