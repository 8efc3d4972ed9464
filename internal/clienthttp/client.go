package clienthttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

// ErrNotFound is returned when the relay knows no sender with the requested id.
var ErrNotFound = errors.New("sender not found")

type fileMetaResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	MimeType string `json:"mimeType"`
}

// FetchFileMeta asks the relay for the metadata a sender announced, by calling
// GET /file-meta?senderId=<id> on the server.
// Uses a 5 second timeout for the HTTP request.
func FetchFileMeta(ctx context.Context, serverURL, senderID string) (protocol.FileMeta, error) {
	base, err := HTTPBase(serverURL)
	if err != nil {
		return protocol.FileMeta{}, err
	}
	endpoint := base + "/file-meta?senderId=" + url.QueryEscape(senderID)

	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return protocol.FileMeta{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return protocol.FileMeta{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return protocol.FileMeta{}, fmt.Errorf("read response: %w", err)
	}

	var parsed fileMetaResponse
	jsonErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if jsonErr == nil && parsed.Message != "" {
			msg = parsed.Message
		}
		if resp.StatusCode == http.StatusNotFound {
			return protocol.FileMeta{}, fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return protocol.FileMeta{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	if jsonErr != nil {
		return protocol.FileMeta{}, fmt.Errorf("parse response: %w", jsonErr)
	}
	if !parsed.Success {
		return protocol.FileMeta{}, fmt.Errorf("server rejected request: %s", parsed.Message)
	}

	return protocol.FileMeta{Name: parsed.Name, Size: parsed.Size, MimeType: parsed.MimeType}, nil
}

// HTTPBase returns serverURL with a ws scheme mapped to http and without a trailing slash.
func HTTPBase(serverURL string) (string, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
