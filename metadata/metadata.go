// Package metadata provides the key/value bag attached to every event and
// the matcher predicate tree used to filter streams.
package metadata

// Metadata is an immutable key/value bag attached to an event. The three
// reserved keys used by the aggregate repository are exported as constants.
type Metadata map[string]interface{}

const (
	// AggregateIDKey is the reserved metadata key holding the owning aggregate's id.
	AggregateIDKey = "_aggregate_id"
	// AggregateTypeKey is the reserved metadata key holding the owning aggregate's type tag.
	AggregateTypeKey = "_aggregate_type"
	// AggregateVersionKey is the reserved metadata key holding the event's 1-based aggregate version.
	AggregateVersionKey = "_aggregate_version"
	// StreamKey is populated by the persistence strategy during mergeAndLoad with the source stream name.
	StreamKey = "stream"
)

// New returns an empty Metadata bag.
func New() Metadata {
	return Metadata{}
}

// WithValue returns a new Metadata with key set to value. The receiver is left untouched.
func WithValue(m Metadata, key string, value interface{}) Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

// Value returns the value stored at key and whether it was present.
func (m Metadata) Value(key string) (interface{}, bool) {
	v, ok := m[key]
	return v, ok
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
