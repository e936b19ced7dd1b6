package eventstore

import "github.com/pkg/errors"

// Error taxonomy. Comparisons should use errors.Is, never string matching.
var (
	// ErrStreamAlreadyExists is returned by CreateStream when the stream name is already registered.
	ErrStreamAlreadyExists = errors.New("eventstore: stream already exists")
	// ErrStreamNotFound is returned by operations addressing an unregistered stream.
	ErrStreamNotFound = errors.New("eventstore: stream not found")
	// ErrConcurrency is returned by AppendTo when an event's (_aggregate_id, _aggregate_version)
	// pair duplicates one already persisted in the stream.
	ErrConcurrency = errors.New("eventstore: concurrent modification")
	// ErrProjectionNotFound is returned by GetProjector/GetReadModelProjector for unregistered names.
	ErrProjectionNotFound = errors.New("eventstore: projection not found")
	// ErrInvalidArgument is returned by constructors given a nil/empty required argument.
	ErrInvalidArgument = errors.New("eventstore: invalid argument")
)

// InvalidArgumentError wraps ErrInvalidArgument with the offending argument's name.
func InvalidArgumentError(argument string) error {
	return errors.Wrap(ErrInvalidArgument, argument)
}
