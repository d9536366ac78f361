// Package client talks to the board API over HTTP and websockets. Client
// satisfies the reorder package's Persister and Fetcher, so a reorder
// session can be driven against a live server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/CrowderSoup/taskflow/kanban"
)

const originHeader = "X-Origin"

// APIError is a non-2xx response. It unwraps to the matching kanban error so
// callers can test with errors.Is.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return kanban.ErrInvalidInput
	case http.StatusForbidden:
		return kanban.ErrForbidden
	case http.StatusNotFound:
		return kanban.ErrNotFound
	}
	return nil
}

// Client wraps http.Client with the board API's JSON conventions.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path, origin string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if origin != "" {
		req.Header.Set(originHeader, origin)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var msg struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &msg) != nil || msg.Error == "" {
			msg.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// FetchBoard returns the full board graph.
func (c *Client) FetchBoard(ctx context.Context, boardID string) (*kanban.Board, error) {
	var board kanban.Board
	if err := c.do(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(boardID), "", nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// PersistCards sends a card reorder batch tagged with origin.
func (c *Client) PersistCards(ctx context.Context, boardID, origin string, positions []kanban.CardPosition) error {
	if positions == nil {
		positions = []kanban.CardPosition{}
	}
	body := map[string]any{"boardId": boardID, "origin": origin, "cards": positions}
	return c.do(ctx, http.MethodPatch, "/api/cards/reorder", origin, body, nil)
}

// PersistLists sends a list reorder batch tagged with origin.
func (c *Client) PersistLists(ctx context.Context, boardID, origin string, positions []kanban.ListPosition) error {
	if positions == nil {
		positions = []kanban.ListPosition{}
	}
	body := map[string]any{"boardId": boardID, "origin": origin, "lists": positions}
	return c.do(ctx, http.MethodPatch, "/api/lists/reorder", origin, body, nil)
}

func (c *Client) CreateBoard(ctx context.Context, title, description string) (*kanban.Board, error) {
	var board kanban.Board
	body := map[string]string{"title": title, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/boards", "", body, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

func (c *Client) CreateList(ctx context.Context, boardID, title string) (*kanban.List, error) {
	var list kanban.List
	body := map[string]string{"title": title, "boardId": boardID}
	if err := c.do(ctx, http.MethodPost, "/api/lists", "", body, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateCard adds a card at the end of a list. An empty priority means MEDIUM.
func (c *Client) CreateCard(ctx context.Context, listID, title string, priority kanban.Priority) (*kanban.Card, error) {
	var card kanban.Card
	body := map[string]string{"title": title, "listId": listID, "priority": string(priority)}
	if err := c.do(ctx, http.MethodPost, "/api/cards", "", body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) AddMember(ctx context.Context, boardID, userID, userName string) error {
	body := map[string]string{"userId": userID, "userName": userName}
	return c.do(ctx, http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/members", "", body, nil)
}
