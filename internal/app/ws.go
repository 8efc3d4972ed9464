package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/sheerbytes/relaydrop/internal/wsclient"
)

const dialRetries = 3

func buildWebSocketURL(serverURL, role string) (string, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}

	var scheme string
	switch u.Scheme {
	case "http", "ws":
		scheme = "ws"
	case "https", "wss":
		scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}

	wsURL := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     strings.TrimSuffix(u.Path, "/") + "/ws",
		RawQuery: "role=" + url.QueryEscape(role),
	}

	return wsURL.String(), nil
}

// dialRelay connects to the relay, retrying the initial dial a few times.
// Once connected there is no reconnection.
func dialRelay(ctx context.Context, wsURL string, logger *slog.Logger) (*wsclient.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	var conn *wsclient.Conn
	op := func() error {
		c, err := wsclient.Dial(ctx, wsURL, logger)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("relay dial failed, retrying", "url", wsURL, "error", err, "wait", wait)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, dialRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	return conn, nil
}
