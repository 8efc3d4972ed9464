package transfer

import (
	"errors"
	"net/url"
	"strings"
)

// ErrNoConnectionID is returned when a link carries no sender id.
var ErrNoConnectionID = errors.New("link has no connection id")

const linkParam = "id"

// ShareLink builds the link a receiver uses to find a sender.
func ShareLink(base, connectionID string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return connectionID
	}
	q := u.Query()
	q.Set(linkParam, connectionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseShareLink extracts the sender connection id from a link produced by
// ShareLink. A bare id is returned as is.
func ParseShareLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ErrNoConnectionID
	}
	if !strings.Contains(link, "://") && !strings.Contains(link, "?") {
		return link, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	id := u.Query().Get(linkParam)
	if id == "" {
		return "", ErrNoConnectionID
	}
	return id, nil
}
