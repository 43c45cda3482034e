package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"tictacgo/pkg/game"
)

// APIError is the uniform failure shape for any non-2xx response. Message is
// the server's human-readable text; Code is its optional machine code.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed (%d)", e.Status)
}

// Client performs typed request/response calls against the game service.
type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

func New(baseURL string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

func (c *Client) Login(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/api/players/login", map[string]string{"name": name}, nil)
}

func (c *Client) Stats(ctx context.Context, name string) (game.Stats, error) {
	var s game.Stats
	err := c.do(ctx, http.MethodGet, "/api/players/"+url.PathEscape(name)+"/stats", nil, &s)
	return s, err
}

func (c *Client) OpenGames(ctx context.Context) ([]game.OpenGame, error) {
	var list []game.OpenGame
	err := c.do(ctx, http.MethodGet, "/api/games/open", nil, &list)
	return list, err
}

// CreateGame returns the new game's id. Some backend builds return the bare
// GUID as the whole body instead of {"id": ...}, so both are accepted.
func (c *Client) CreateGame(ctx context.Context, playerName string) (string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/games", map[string]string{"playerName": playerName}, &raw); err != nil {
		return "", err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil && guidLike.MatchString(s) {
		return s, nil
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.ID != "" {
		return body.ID, nil
	}
	return "", fmt.Errorf("transport: backend did not return a game id")
}

func (c *Client) GetGame(ctx context.Context, id string) (*game.Snapshot, error) {
	var s game.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/games/"+url.PathEscape(id), nil, &s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = id
	}
	return &s, nil
}

func (c *Client) JoinGame(ctx context.Context, id, playerName string) error {
	return c.do(ctx, http.MethodPost, "/api/games/"+url.PathEscape(id)+"/join", map[string]string{"playerName": playerName}, nil)
}

func (c *Client) Move(ctx context.Context, id, playerName string, cell int) error {
	return c.do(ctx, http.MethodPost, "/api/games/"+url.PathEscape(id)+"/move", struct {
		PlayerName string `json:"playerName"`
		CellIndex  int    `json:"cellIndex"`
	}{playerName, cell}, nil)
}

func (c *Client) Rematch(ctx context.Context, id, playerName string) error {
	return c.do(ctx, http.MethodPost, "/api/games/"+url.PathEscape(id)+"/rematch", map[string]string{"playerName": playerName}, nil)
}

var guidLike = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("transport: encode %s: %w", path, err)
		}
		rd = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("transport: read %s: %w", path, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", res.StatusCode))
		return decodeError(res.StatusCode, res.Header.Get("Content-Type"), data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("transport: decode %s: %w", path, err)
	}
	return nil
}

// decodeError normalizes any failure body into an APIError: a JSON envelope
// contributes message/code, anything else is surfaced as plain text.
func decodeError(status int, contentType string, data []byte) *APIError {
	apiErr := &APIError{Status: status}

	if strings.Contains(contentType, "application/json") {
		var env struct {
			Message string `json:"message"`
			Title   string `json:"title"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(data, &env) == nil {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
			if apiErr.Message == "" {
				apiErr.Message = env.Title
			}
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
