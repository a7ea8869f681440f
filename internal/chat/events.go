package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound event names, client -> gateway.
const (
	EventRefreshAuth   = "refreshAuth"
	EventJoinChat      = "joinChat"
	EventLeaveChat     = "leaveChat"
	EventMessage       = "message"
	EventEditMessage   = "editMessage"
	EventDeleteMessage = "deleteMessage"
	EventTyping        = "typing"
	EventStopTyping    = "stopTyping"
)

// Outbound event names, gateway -> client.
const (
	PushUnauthorized   = "unauthorized"
	PushError          = "error"
	PushAuthRefreshed  = "authRefreshed"
	PushJoinedChat     = "joinedChat"
	PushLeftChat       = "leftChat"
	PushNewMessage     = "newMessage"
	PushMessageEdited  = "messageEdited"
	PushMessageDeleted = "messageDeleted"
	PushTyping         = "typing"
	PushStopTyping     = "stopTyping"
)

var ErrUnknownEvent = errors.New("unknown event")

// ValidationError is a malformed payload. Its message goes back to the client.
type ValidationError struct {
	Event  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Event, e.Reason)
}

// Frame is the wire shape in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is the closed set of client events. Only types in this file
// implement it, and Gateway.Dispatch switches over all of them.
type Inbound interface {
	inbound()
}

type RefreshAuth struct {
	Token string `json:"token"`
}

type JoinChat struct {
	ChatID string `json:"chatId"`
}

type LeaveChat struct {
	ChatID string `json:"chatId"`
}

type SendMessage struct {
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
	LocalID string `json:"localId,omitempty"`
}

type EditMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
}

type DeleteMessage struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

type Typing struct {
	ChatID   string `json:"chatId"`
	Username string `json:"username"`
}

type StopTyping struct {
	ChatID string `json:"chatId"`
}

func (RefreshAuth) inbound()   {}
func (JoinChat) inbound()      {}
func (LeaveChat) inbound()     {}
func (SendMessage) inbound()   {}
func (EditMessage) inbound()   {}
func (DeleteMessage) inbound() {}
func (Typing) inbound()        {}
func (StopTyping) inbound()    {}

// DecodeInbound parses one frame into its typed event and checks the
// payload shape. It returns the event name even on failure so the caller
// can label metrics and errors.
func DecodeInbound(raw []byte) (string, Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil, &ValidationError{Event: "frame", Reason: "not a JSON event frame"}
	}

	switch f.Event {
	case EventRefreshAuth:
		var ev RefreshAuth
		if err := decodeData(f, &ev); err != nil {
			return f.Event, nil, err
		}
		if ev.Token == "" {
			return f.Event, nil, invalid(f.Event, "token is required")
		}
		return f.Event, ev, nil

	case EventJoinChat:
		chatID, err := decodeChatID(f)
		if err != nil {
			return f.Event, nil, err
		}
		return f.Event, JoinChat{ChatID: chatID}, nil

	case EventLeaveChat:
		chatID, err := decodeChatID(f)
		if err != nil {
			return f.Event, nil, err
		}
		return f.Event, LeaveChat{ChatID: chatID}, nil

	case EventMessage:
		var ev SendMessage
		if err := decodeData(f, &ev); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "chatId", ev.ChatID); err != nil {
			return f.Event, nil, err
		}
		if strings.TrimSpace(ev.Text) == "" {
			return f.Event, nil, invalid(f.Event, "text must be a non-empty string")
		}
		return f.Event, ev, nil

	case EventEditMessage:
		var ev EditMessage
		if err := decodeData(f, &ev); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "messageId", ev.MessageID); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "chatId", ev.ChatID); err != nil {
			return f.Event, nil, err
		}
		if strings.TrimSpace(ev.Text) == "" {
			return f.Event, nil, invalid(f.Event, "text must be a non-empty string")
		}
		return f.Event, ev, nil

	case EventDeleteMessage:
		var ev DeleteMessage
		if err := decodeData(f, &ev); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "messageId", ev.MessageID); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "chatId", ev.ChatID); err != nil {
			return f.Event, nil, err
		}
		return f.Event, ev, nil

	case EventTyping:
		var ev Typing
		if err := decodeData(f, &ev); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "chatId", ev.ChatID); err != nil {
			return f.Event, nil, err
		}
		return f.Event, ev, nil

	case EventStopTyping:
		var ev StopTyping
		if err := decodeData(f, &ev); err != nil {
			return f.Event, nil, err
		}
		if err := require(f.Event, "chatId", ev.ChatID); err != nil {
			return f.Event, nil, err
		}
		return f.Event, ev, nil
	}

	return f.Event, nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

func decodeData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return invalid(f.Event, "missing data")
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return invalid(f.Event, "data must be an object")
	}
	return nil
}

// decodeChatID accepts either "r1" or {"chatId":"r1"}.
func decodeChatID(f Frame) (string, error) {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 {
		return "", invalid(f.Event, "missing chatId")
	}
	var chatID string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &chatID); err != nil {
			return "", invalid(f.Event, "chatId must be a string")
		}
	} else {
		var obj JoinChat
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", invalid(f.Event, "chatId must be a string")
		}
		chatID = obj.ChatID
	}
	if err := require(f.Event, "chatId", chatID); err != nil {
		return "", err
	}
	return chatID, nil
}

func require(event, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(event, field+" is required")
	}
	return nil
}

func invalid(event, reason string) error {
	return &ValidationError{Event: event, Reason: reason}
}

// encodeFrame renders an outbound event.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
