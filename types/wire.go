package types

import "encoding/json"

// Encode wraps payload into the websocket envelope and serializes it.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{
		Event: event,
		Data:  data,
	})
}

// Decode parses one websocket frame into an InboundEvent.
func Decode(raw []byte) (InboundEvent, error) {
	msg := WebsocketMessage{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundEvent{}, err
	}
	return InboundEvent{Name: msg.Event, Data: msg.Data}, nil
}
