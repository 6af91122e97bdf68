package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// HTTPTransport implements Transport against the public API. baseURL
// includes the version prefix, e.g. http://localhost:8080/v1.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *HTTPTransport) Session(ctx context.Context, bookingID string) (*Session, error) {
	var s Session
	if err := t.do(ctx, http.MethodGet, bookingPath(bookingID, ""), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *HTTPTransport) Publish(ctx context.Context, bookingID string, fix Fix) error {
	return t.do(ctx, http.MethodPut, bookingPath(bookingID, "/location"), fix, nil)
}

func (t *HTTPTransport) Clear(ctx context.Context, bookingID string) error {
	return t.do(ctx, http.MethodDelete, bookingPath(bookingID, "/location"), nil, nil)
}

func (t *HTTPTransport) Counterparty(ctx context.Context, bookingID string) (*Counterparty, error) {
	var cp Counterparty
	if err := t.do(ctx, http.MethodGet, bookingPath(bookingID, "/location/counterparty"), nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func bookingPath(bookingID, suffix string) string {
	return "/bookings/" + url.PathEscape(bookingID) + suffix
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
