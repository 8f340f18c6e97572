// Package protocol defines the JSON envelope exchanged over the
// streaming connection and the typed payloads nested inside it.
// It is a pure mapping layer with no I/O.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of envelope on the wire.
type MessageType string

const (
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeRecognitionResult MessageType = "recognition_result"
	TypeError             MessageType = "error"
)

// Message is the wire envelope for text frames. Type is always present;
// Data is type-dependent and left raw until the dispatcher knows what
// to decode it into.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// NewMessage builds an envelope with the current UTC timestamp.
func NewMessage(t MessageType, data interface{}) (Message, error) {
	msg := Message{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// RecognitionResult is the data payload of a recognition_result envelope.
// Confidence is on the device's 0-100 scale.
type RecognitionResult struct {
	SpeakerID      int       `json:"speaker_id,omitempty"`
	SpeakerName    string    `json:"speaker_name"`
	Confidence     float64   `json:"confidence"`
	Timestamp      string    `json:"timestamp,omitempty"`
	AudioDuration  float64   `json:"audio_duration,omitempty"`
	ProcessingTime float64   `json:"processing_time,omitempty"`
	Features       *Features `json:"features,omitempty"`
}

// Features is the optional analysis block attached to a recognition result.
type Features struct {
	Vector         []float64          `json:"vector,omitempty"`
	EnergyLevel    float64            `json:"energy_level,omitempty"`
	VoiceActivity  bool               `json:"voice_activity"`
	FrequencyStats map[string]float64 `json:"frequency_stats,omitempty"`
}

// ErrorPayload is the data payload of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}
