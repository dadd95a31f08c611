package types

import "encoding/json"

// Extensions models the schema-less payload fields the source system carries
// on several entities (requirements, agent_metadata, results, job_data).
// Per spec §9's design note, these are modeled as a narrow reader over an
// open bag rather than a free-form map callers mutate in place: construct a
// new Extensions via With, never mutate an existing one's backing map.
type Extensions struct {
	values map[string]json.RawMessage
}

// NewExtensions builds an empty Extensions bag.
func NewExtensions() Extensions {
	return Extensions{values: make(map[string]json.RawMessage)}
}

// With returns a copy of e with key set to the JSON-encoded value. The
// receiver is left untouched; callers never mutate a bag in place.
func (e Extensions) With(key string, value interface{}) Extensions {
	out := Extensions{values: make(map[string]json.RawMessage, len(e.values)+1)}
	for k, v := range e.values {
		out.values[k] = v
	}
	raw, err := json.Marshal(value)
	if err != nil {
		raw = json.RawMessage("null")
	}
	out.values[key] = raw
	return out
}

// Get decodes the value stored at key into dest. Returns false if the key is
// absent.
func (e Extensions) Get(key string, dest interface{}) bool {
	raw, ok := e.values[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false
	}
	return true
}

// Has reports whether key is present in the bag.
func (e Extensions) Has(key string) bool {
	_, ok := e.values[key]
	return ok
}

// Keys returns the set of keys present, in no particular order.
func (e Extensions) Keys() []string {
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	return keys
}

// MarshalJSON implements json.Marshaler.
func (e Extensions) MarshalJSON() ([]byte, error) {
	if e.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.values)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Extensions) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.values = raw
	return nil
}
