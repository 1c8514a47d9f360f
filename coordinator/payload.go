package coordinator

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
)

// decodePayload decodes a JSON payload into out with weak typing, so "3600" and 3600 both fit an int field.
func decodePayload(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	return mapstructure.WeakDecode(raw, out)
}

// decodeText decodes a payload that is either a plain JSON string or an object. For an object, obj is filled
// and field returns the text from it.
func decodeText(data json.RawMessage, obj interface{}, field func() string) (string, error) {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		return text, nil
	}
	if err := decodePayload(data, obj); err != nil {
		return "", err
	}
	return field(), nil
}
