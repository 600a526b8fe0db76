package models

import (
	"encoding/json"
	"fmt"
)

// MessageType names a websocket message.
type MessageType string

const (
	TypeJoinChannel   MessageType = "joinChannel"
	TypeLeaveChannel  MessageType = "leaveChannel"
	TypeSelectVideo   MessageType = "selectVideo"
	TypeChangeChannel MessageType = "changeChannel"
	TypeVideoAdded    MessageType = "videoAdded"
	TypeVideoRemoved  MessageType = "videoRemoved"
	TypeVideoUpdated  MessageType = "videoUpdated"
	TypeVideoSelected MessageType = "videoSelected"
	TypeError         MessageType = "error"
)

// Message is the envelope exchanged over the websocket.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into an envelope of the given type.
func NewMessage(t MessageType, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into dst.
func (m Message) Decode(dst any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s without payload", ErrValidation, m.Type)
	}
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrValidation, m.Type, err)
	}
	return nil
}

/* ---------- payloads ---------- */

type SelectVideoPayload struct {
	ChannelName string `json:"channelName"`
	VideoID     string `json:"videoId"`
}

type ChangeChannelPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// VideoPayload carries videoAdded and videoUpdated.
type VideoPayload struct {
	ChannelName string `json:"channelName"`
	Video       Video  `json:"video"`
}

type VideoRef struct {
	ID string `json:"id"`
}

type VideoRemovedPayload struct {
	ChannelName string   `json:"channelName"`
	Video       VideoRef `json:"video"`
}

// VideoSelectedPayload carries the selection. A nil VideoID means none.
type VideoSelectedPayload struct {
	ChannelName string  `json:"channelName"`
	VideoID     *string `json:"videoId"`
}

type ErrorPayload struct {
	Type    MessageType `json:"type,omitempty"`
	Message string      `json:"message"`
}
