package message

import (
	"encoding/json"
)

// NewBody converts a typed value into the generic maps, slices and scalars a
// Message body holds, using the value's JSON representation. This lets
// callers put structs with json tags or custom marshalers, such as WebRTC
// session descriptions, into a body.
func NewBody(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var body interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	return body, nil
}

// DecodeBody fills v from a generic Message body, the inverse of NewBody.
func DecodeBody(body interface{}, v interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
