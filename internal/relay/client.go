package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-chat-gateway/internal/model"
)

var (
	// ErrUnauthorized means the collaborator rejected the bearer credential.
	ErrUnauthorized = errors.New("credential rejected by upstream")
	ErrNotFound     = errors.New("upstream resource not found")
)

// StatusError is a non-2xx answer that is neither 401 nor 404.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to the chat service (membership) and the message service
// (create/edit/delete). Every call carries the connection's bearer token
// and is bounded by the configured timeout.
type Client struct {
	chatBase    string
	messageBase string
	timeout     time.Duration
	http        *http.Client
}

func NewClient(chatBase, messageBase string, timeout time.Duration) *Client {
	return &Client{
		chatBase:    strings.TrimRight(chatBase, "/"),
		messageBase: strings.TrimRight(messageBase, "/"),
		timeout:     timeout,
		http:        &http.Client{Timeout: timeout},
	}
}

type membershipResponse struct {
	IsMember bool `json:"isMember"`
}

// IsMember asks the chat service whether userID belongs to chatID.
// 403 and 404 both read as "not a member".
func (c *Client) IsMember(ctx context.Context, userID, chatID, token string) (bool, error) {
	u := fmt.Sprintf("%s/chats/%s/members/%s", c.chatBase, url.PathEscape(chatID), url.PathEscape(userID))
	var resp membershipResponse
	err := c.do(ctx, "membership", http.MethodGet, u, token, nil, &resp)
	switch {
	case err == nil:
		return resp.IsMember, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusForbidden {
			return false, nil
		}
		return false, err
	}
}

type createRequest struct {
	Text    string `json:"text"`
	LocalID string `json:"localId,omitempty"`
}

// CreateMessage relays a send. The returned message is the persisted copy.
func (c *Client) CreateMessage(ctx context.Context, token, chatID, text, localID string) (*model.Message, error) {
	u := fmt.Sprintf("%s/chats/%s/messages", c.messageBase, url.PathEscape(chatID))
	msg := &model.Message{}
	if err := c.do(ctx, "create message", http.MethodPost, u, token, createRequest{Text: text, LocalID: localID}, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

type editRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

func (c *Client) EditMessage(ctx context.Context, token, messageID, chatID, text string) (*model.Message, error) {
	u := fmt.Sprintf("%s/messages/%s", c.messageBase, url.PathEscape(messageID))
	msg := &model.Message{}
	if err := c.do(ctx, "edit message", http.MethodPatch, u, token, editRequest{ChatID: chatID, Text: text}, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, token, messageID, chatID string) error {
	u := fmt.Sprintf("%s/messages/%s?chatId=%s", c.messageBase, url.PathEscape(messageID), url.QueryEscape(chatID))
	return c.do(ctx, "delete message", http.MethodDelete, u, token, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, u, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case res.StatusCode < 200 || res.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
