package domain

import "encoding/json"

// ChangePayload wraps a JSON snapshot of an entity captured on one side of a
// change. The raw bytes are cloned on the way in and out so holders can never
// mutate shared state.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload wraps raw JSON. A nil slice yields a defined but empty
// payload; use UndefinedChangePayload for "not captured".
func NewChangePayload(raw json.RawMessage) ChangePayload {
	p := ChangePayload{defined: true}
	if raw != nil {
		p.raw = append(json.RawMessage(nil), raw...)
	}
	return p
}

// NewChangePayloadFromValue marshals a typed value into a payload.
func NewChangePayloadFromValue[T any](value T) (ChangePayload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return ChangePayload{}, err
	}
	return NewChangePayload(raw), nil
}

// UndefinedChangePayload returns the zero payload, meaning "not captured".
func UndefinedChangePayload() ChangePayload {
	return ChangePayload{}
}

// Defined reports whether the payload was captured.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload holds no bytes.
func (p ChangePayload) IsEmpty() bool {
	return !p.defined || len(p.raw) == 0
}

// Raw returns a cloned copy of the JSON bytes, or nil when undefined or empty.
func (p ChangePayload) Raw() json.RawMessage {
	if p.IsEmpty() {
		return nil
	}
	return append(json.RawMessage(nil), p.raw...)
}

// DecodeChangePayload unmarshals a payload into T. It reports false when the
// payload is undefined, empty, or does not decode into T.
func DecodeChangePayload[T any](p ChangePayload) (T, bool) {
	var out T
	raw := p.Raw()
	if len(raw) == 0 {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}
	return out, true
}
