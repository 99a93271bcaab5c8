package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	defaultServer = "http://localhost:8080"
	userHeader    = "X-Permit-User-ID"
	roleHeader    = "X-Permit-Role"
)

// APIError is a non-2xx response from permitd
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// Client calls the permitd HTTP API on behalf of one user
type Client struct {
	baseURL string
	userID  string
	role    string
	http    *http.Client
}

// NewClient creates a client acting as userID
func NewClient(baseURL, userID, role string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		role:    role,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Do sends a request with an optional JSON body and decodes a JSON response
// into out when out is non-nil
func (c *Client) Do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(userHeader, c.userID)
	if c.role != "" {
		req.Header.Set(roleHeader, c.role)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// clientFlags are the connection flags every command accepts
type clientFlags struct {
	server *string
	as     *string
	role   *string
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	server := os.Getenv("PERMIT_SERVER")
	if server == "" {
		server = defaultServer
	}
	return &clientFlags{
		server: fs.String("server", server, "permitd URL (PERMIT_SERVER)"),
		as:     fs.String("as", os.Getenv("PERMIT_USER_ID"), "Acting user ID (PERMIT_USER_ID)"),
		role:   fs.String("role-hint", "", "Role name forwarded to the server"),
	}
}

func (f *clientFlags) client() (*Client, error) {
	if *f.as == "" {
		return nil, errors.New("acting user is required (-as or PERMIT_USER_ID)")
	}
	if _, err := parseID(*f.as, "as"); err != nil {
		return nil, err
	}
	return NewClient(*f.server, *f.as, *f.role), nil
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}
