package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hoobean1996/shenbi-sub002/internal/domain"
)

// Client is the HTTP implementation of RoomAccessor against the room API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) CreateBattle(ctx context.Context, hostName string) (*Membership, error) {
	var m Membership
	err := c.do(ctx, http.MethodPost, "/api/v1/battles", "", map[string]string{"host_name": hostName}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) JoinBattle(ctx context.Context, code, name string) (*Membership, error) {
	var m Membership
	err := c.do(ctx, http.MethodPost, "/api/v1/battles/join", "", map[string]string{"code": code, "name": name}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) CreateClassroomSession(ctx context.Context, classroomID int64, teacherName string) (*Membership, error) {
	var m Membership
	path := fmt.Sprintf("/api/v1/classrooms/%d/sessions", classroomID)
	err := c.do(ctx, http.MethodPost, path, "", map[string]string{"teacher_name": teacherName}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) JoinSession(ctx context.Context, code, name string) (*Membership, error) {
	var m Membership
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions/join", "", map[string]string{"code": code, "name": name}, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Fetch(ctx context.Context, token, code string) (domain.Snapshot, error) {
	return c.snapshot(ctx, http.MethodGet, "/api/v1/rooms/"+code, token, nil)
}

func (c *Client) Rejoin(ctx context.Context, token, code string) (domain.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/v1/rooms/"+code+"/rejoin", token, nil)
}

func (c *Client) SetLevel(ctx context.Context, token, code string, level json.RawMessage) (domain.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPut, "/api/v1/rooms/"+code+"/level", token, map[string]json.RawMessage{"level": level})
}

func (c *Client) Start(ctx context.Context, token, code string, level json.RawMessage) (domain.Snapshot, error) {
	body := map[string]json.RawMessage{}
	if level != nil {
		body["level"] = level
	}
	return c.snapshot(ctx, http.MethodPost, "/api/v1/rooms/"+code+"/start", token, body)
}

func (c *Client) Reset(ctx context.Context, token, code string) (domain.Snapshot, error) {
	return c.snapshot(ctx, http.MethodPost, "/api/v1/rooms/"+code+"/reset", token, nil)
}

func (c *Client) UpdateProgress(ctx context.Context, token, code string, stars int, completed bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rooms/"+code+"/progress", token, map[string]any{"stars": stars, "completed": completed}, nil)
}

func (c *Client) End(ctx context.Context, token, code string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rooms/"+code+"/end", token, nil, nil)
}

func (c *Client) Leave(ctx context.Context, token, code string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/rooms/"+code+"/leave", token, nil, nil)
}

func (c *Client) snapshot(ctx context.Context, method, path, token string, body any) (domain.Snapshot, error) {
	var resp struct {
		Snapshot domain.Snapshot `json:"snapshot"`
	}
	if err := c.do(ctx, method, path, token, body, &resp); err != nil {
		return domain.Snapshot{}, err
	}
	return resp.Snapshot, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("room api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
