package websocket

import "encoding/json"

// Frame is the JSON envelope of every text message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data []byte) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: json.RawMessage(data)})
}

func decodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
