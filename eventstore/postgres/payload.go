package postgres

import (
	"encoding/json"
	"sync"

	"github.com/mailru/easyjson"
	"github.com/pkg/errors"
)

// JSONPayloadConverter encodes payloads as JSON. A payload that implements
// easyjson.Marshaler/Unmarshaler is encoded/decoded through easyjson's
// faster path; everything else falls back to encoding/json.
type JSONPayloadConverter struct {
	mu           sync.RWMutex
	constructors map[string]func() interface{}
}

// NewJSONPayloadConverter returns a converter with no registered types.
// Unregistered event names decode into a map[string]interface{}.
func NewJSONPayloadConverter() *JSONPayloadConverter {
	return &JSONPayloadConverter{constructors: make(map[string]func() interface{})}
}

// Register associates eventName with a zero-value constructor used to
// reconstruct the concrete Go type behind payload interface{} on decode.
// Without a registered type, payloads decode as map[string]interface{}.
func (c *JSONPayloadConverter) Register(eventName string, constructor func() interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constructors[eventName] = constructor
}

// ConvertPayload encodes payload to its on-disk representation.
func (c *JSONPayloadConverter) ConvertPayload(payload interface{}) ([]byte, error) {
	if m, ok := payload.(easyjson.Marshaler); ok {
		data, err := easyjson.Marshal(m)
		if err != nil {
			return nil, errors.Wrap(err, "postgres: easyjson marshal payload")
		}
		return data, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: json marshal payload")
	}
	return data, nil
}

// ConvertPayloadData decodes data into the type registered for eventName,
// falling back to map[string]interface{} when nothing was registered.
func (c *JSONPayloadConverter) ConvertPayloadData(eventName string, data []byte) (interface{}, error) {
	c.mu.RLock()
	constructor, ok := c.constructors[eventName]
	c.mu.RUnlock()

	if !ok {
		var generic map[string]interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil, errors.Wrapf(err, "postgres: unmarshal untyped payload for %q", eventName)
		}
		return generic, nil
	}

	payload := constructor()
	if u, ok := payload.(easyjson.Unmarshaler); ok {
		if err := easyjson.Unmarshal(data, u); err != nil {
			return nil, errors.Wrapf(err, "postgres: easyjson unmarshal payload for %q", eventName)
		}
		return payload, nil
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, errors.Wrapf(err, "postgres: json unmarshal payload for %q", eventName)
	}
	return payload, nil
}
