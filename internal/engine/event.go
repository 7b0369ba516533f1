package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"focustown/backend/internal/model"
)

type EventType string

const (
	EventSessionComplete           EventType = "session_complete"
	EventPlayerSeated              EventType = "player_seated"
	EventEntranceCinematicFinished EventType = "entrance_cinematic_finished"
	EventTapOutsideDuringSession   EventType = "tap_outside_during_session"
	EventEngineReady               EventType = "engine_ready"
)

type Event struct {
	Type            EventType           `json:"type"`
	Spot            *model.SpotLocation `json:"spot,omitempty"`
	DurationSeconds int                 `json:"durationSeconds,omitempty"`
	CoinsEarned     int                 `json:"coinsEarned,omitempty"`
}

// Message is the envelope used on the bridge socket in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrUnknownEvent = errors.New("unknown engine event")

type sessionCompletePayload struct {
	DurationSeconds int `json:"durationSeconds"`
	CoinsEarned     int `json:"coinsEarned"`
}

// DecodeEvent parses an envelope received from the game client.
func DecodeEvent(raw []byte) (Event, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	ev := Event{Type: EventType(msg.Type)}
	switch ev.Type {
	case EventSessionComplete:
		var p sessionCompletePayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return Event{}, fmt.Errorf("decode %s: %w", msg.Type, err)
			}
		}
		if p.DurationSeconds < 0 || p.CoinsEarned < 0 {
			return Event{}, fmt.Errorf("decode %s: negative values", msg.Type)
		}
		ev.DurationSeconds = p.DurationSeconds
		ev.CoinsEarned = p.CoinsEarned
	case EventPlayerSeated:
		var spot model.SpotLocation
		if err := json.Unmarshal(msg.Payload, &spot); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", msg.Type, err)
		}
		if spot.SpotID == "" {
			return Event{}, fmt.Errorf("decode %s: missing spotId", msg.Type)
		}
		ev.Spot = &spot
	case EventEntranceCinematicFinished, EventTapOutsideDuringSession, EventEngineReady:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Type)
	}
	return ev, nil
}

// EncodeCommand wraps a command in the bridge envelope.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Type, err)
	}
	return json.Marshal(Message{Type: string(cmd.Type), Payload: payload})
}
