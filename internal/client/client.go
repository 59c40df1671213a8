// Package client talks to the messenger API over HTTP and websocket and
// provides the history, presence and event sources a conversation.Reconciler
// needs on the client side.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/damoang/angple-messenger/internal/common"
	"github.com/damoang/angple-messenger/internal/domain"
	"github.com/gorilla/websocket"
)

const defaultHeartbeatInterval = 30 * time.Second

// Client is an angple-messenger API client for one authenticated user
type Client struct {
	BaseURL           string
	Token             string
	UserID            string
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	HeartbeatInterval time.Duration
}

// New creates a client; token is a bearer token issued for userID
func New(baseURL, token, userID string) *Client {
	return &Client{
		BaseURL:           strings.TrimRight(baseURL, "/"),
		Token:             token,
		UserID:            userID,
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		Dialer:            websocket.DefaultDialer,
		HeartbeatInterval: defaultHeartbeatInterval,
	}
}

// APIError is a non-2xx response
type APIError struct {
	Code    string
	Message string
	Details string
	Status  int
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%d %s: %s (%s)", e.Status, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps response statuses onto the shared sentinel errors
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == common.ErrValidation
	case http.StatusNotFound:
		return target == common.ErrMessageNotFound || target == common.ErrNotFound
	case http.StatusUnauthorized:
		return target == common.ErrUnauthorized
	case http.StatusForbidden:
		return target == common.ErrForbidden
	case http.StatusBadGateway:
		return target == common.ErrSendFailed
	}
	return false
}

type envelope struct {
	Data  json.RawMessage   `json:"data"`
	Meta  *common.Meta      `json:"meta,omitempty"`
	Error *common.ErrorInfo `json:"error,omitempty"`
}

// Send submits a message. Callers see it in their conversation once the
// echo arrives on the event channel.
func (c *Client) Send(ctx context.Context, receiverID, content string) (*domain.Message, error) {
	body := domain.SendMessageRequest{ReceiverID: receiverID, Content: content}
	var msg domain.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkAsRead acknowledges a received message
func (c *Client) MarkAsRead(ctx context.Context, id uint64) (*domain.Message, error) {
	var msg domain.Message
	path := "/api/v1/messages/" + strconv.FormatUint(id, 10) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// QueryConversation fetches history between the pair; one side must be the
// client's own user.
func (c *Client) QueryConversation(ctx context.Context, userA, userB string, limit int) ([]*domain.Message, error) {
	peer := userB
	switch c.UserID {
	case userA:
	case userB:
		peer = userA
	default:
		return nil, common.ErrForbidden
	}

	path := "/api/v1/conversations/" + url.PathEscape(peer) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp domain.ConversationResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Snapshot returns the users currently online
func (c *Client) Snapshot(ctx context.Context) ([]string, error) {
	var resp domain.PresenceSnapshotResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/presence", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Presence returns one user's entry
func (c *Client) Presence(ctx context.Context, userID string) (domain.PresenceEntry, error) {
	var entry domain.PresenceEntry
	err := c.do(ctx, http.MethodGet, "/api/v1/presence/"+url.PathEscape(userID), nil, &entry)
	return entry, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// wsURL converts the base URL to the websocket endpoint
func (c *Client) wsURL(peerID string) (string, error) {
	u, err := url.Parse(c.BaseURL + "/api/v1/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if peerID != "" {
		// 대화 소켓은 presence 를 별도 구독으로 받음
		q := u.Query()
		q.Set("peer_id", peerID)
		q.Set("presence", "false")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

var errUnknownTopic = errors.New("unknown topic")
