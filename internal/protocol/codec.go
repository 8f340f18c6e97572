package protocol

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an envelope for a text frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses a text frame into an envelope. An envelope without a
// type is rejected here; unknown types are the dispatcher's problem.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode message: missing type")
	}
	return msg, nil
}

// DecodeRecognitionResult parses the nested payload of a
// recognition_result envelope.
func DecodeRecognitionResult(msg Message) (RecognitionResult, error) {
	var result RecognitionResult
	if len(msg.Data) == 0 {
		return result, fmt.Errorf("recognition_result: empty payload")
	}
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		return result, fmt.Errorf("recognition_result: %w", err)
	}
	return result, nil
}

// DecodeError extracts the server-supplied message from an error
// envelope. A payload without a message field yields a generic string
// rather than an error; the envelope itself is already valid.
func DecodeError(msg Message) string {
	var payload ErrorPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err == nil && payload.Message != "" {
			return payload.Message
		}
	}
	return "unspecified device error"
}
