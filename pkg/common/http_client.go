package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds every outbound provider call. Initiation paths must
// never hang a record in PENDING because a gateway stopped answering.
const DefaultTimeout = 30 * time.Second

var httpClient = &http.Client{Timeout: DefaultTimeout}

// Post sends a JSON POST request and decodes the JSON response body into out.
func Post(ctx context.Context, url string, payload interface{}, headers map[string]string, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return doRequest(req, out)
}

// Get sends a GET request and decodes the JSON response body into out.
func Get(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return doRequest(req, out)
}

func doRequest(req *http.Request, out interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, ErrTimeout)
		}
		return fmt.Errorf("%s %s: %v: %w", req.Method, req.URL.Path, err, ErrProvider)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %v: %w", err, ErrProvider)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s returned %d: %w", req.Method, req.URL.Path, resp.StatusCode, ErrProvider)
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response %q: %v: %w", truncate(string(body), 200), err, ErrProvider)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
