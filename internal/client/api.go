package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chat-sync/internal/models"
)

// APIClient is the request/response transport: bootstrap, mutations, and the
// fallback path when the realtime channel is down. Auth is a bearer token
// attached to every request.
type APIClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	tracer  trace.Tracer
}

// NewAPIClient builds a client for the REST base URL (including the /api
// path segment).
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   http.DefaultClient,
		tracer:  otel.Tracer("chat-sync/client"),
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.Status)
}

// WSURL derives the websocket endpoint from the REST base: the transport
// path segment replaces the API one, and the scheme switches to ws(s).
func (c *APIClient) WSURL() string {
	url := c.baseURL
	if strings.HasSuffix(url, "/api") {
		url = strings.TrimSuffix(url, "/api") + "/ws"
	}
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// Token returns the bearer token the client was built with.
func (c *APIClient) Token() string {
	return c.token
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, method+" "+path)
	defer span.End()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListRooms fetches every conversation the user participates in, annotated
// with last-message previews and unread counts.
func (c *APIClient) ListRooms(ctx context.Context) ([]models.Room, error) {
	var resp struct {
		Rooms []models.Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// RoomMessages fetches the full message history for a room.
func (c *APIClient) RoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/rooms/"+roomID+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage posts a plain text message over HTTP. Used as the fallback
// path when no channel is connected; the returned message carries a real id.
func (c *APIClient) SendMessage(ctx context.Context, roomID, content string) (models.Message, error) {
	req := struct {
		Content string `json:"content"`
	}{Content: content}
	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/rooms/"+roomID+"/messages", req, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// StartPersonalRoom creates or returns the one-to-one room with another user.
func (c *APIClient) StartPersonalRoom(ctx context.Context, userID string) (models.Room, error) {
	req := struct {
		UserID string `json:"user_id"`
	}{UserID: userID}
	var resp struct {
		Room models.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, "/rooms/direct", req, &resp); err != nil {
		return models.Room{}, err
	}
	return resp.Room, nil
}

// CompanyUsers lists the accounts available as chat targets.
func (c *APIClient) CompanyUsers(ctx context.Context) ([]models.User, error) {
	var resp struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// CreateGroup creates a group room with the given members.
func (c *APIClient) CreateGroup(ctx context.Context, name string, memberIDs []string, description string) (models.Room, error) {
	req := struct {
		Name        string   `json:"name"`
		MemberIDs   []string `json:"member_ids"`
		Description string   `json:"description,omitempty"`
	}{Name: name, MemberIDs: memberIDs, Description: description}
	var resp struct {
		Room models.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, "/groups", req, &resp); err != nil {
		return models.Room{}, err
	}
	return resp.Room, nil
}

// GroupDetail fetches the authoritative state of a group room.
func (c *APIClient) GroupDetail(ctx context.Context, roomID string) (models.Room, error) {
	var resp struct {
		Room models.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodGet, "/groups/"+roomID, nil, &resp); err != nil {
		return models.Room{}, err
	}
	return resp.Room, nil
}

// AddMembers adds users to a group and returns the server's updated room.
func (c *APIClient) AddMembers(ctx context.Context, roomID string, memberIDs []string) (models.Room, error) {
	req := struct {
		MemberIDs []string `json:"member_ids"`
	}{MemberIDs: memberIDs}
	var resp struct {
		Room models.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, "/groups/"+roomID+"/members", req, &resp); err != nil {
		return models.Room{}, err
	}
	return resp.Room, nil
}

// RemoveMember removes one user from a group.
func (c *APIClient) RemoveMember(ctx context.Context, roomID, memberID string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+roomID+"/members/"+memberID, nil, nil)
}

// LeaveGroup removes the calling user from a group.
func (c *APIClient) LeaveGroup(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/groups/"+roomID+"/leave", nil, nil)
}

// DeleteGroup deletes a group room entirely.
func (c *APIClient) DeleteGroup(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+roomID, nil, nil)
}

// UploadMedia submits a file through the room's multipart media endpoint and
// returns the message the server created for it.
func (c *APIClient) UploadMedia(ctx context.Context, roomID, filename string, r io.Reader, kind models.MessageType) (models.Message, error) {
	ctx, span := c.tracer.Start(ctx, "POST /rooms/{id}/media")
	defer span.End()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("kind", string(kind)); err != nil {
		return models.Message{}, err
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.Message{}, fmt.Errorf("read attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.Message{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rooms/"+roomID+"/media", &buf)
	if err != nil {
		return models.Message{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return models.Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error == "" {
			errBody.Error = http.StatusText(resp.StatusCode)
		}
		return models.Message{}, &APIError{Status: resp.StatusCode, Message: errBody.Error}
	}

	var msg models.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return models.Message{}, fmt.Errorf("decode response: %w", err)
	}
	return msg, nil
}
