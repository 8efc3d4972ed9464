package app

import "github.com/google/uuid"

// newUserID identifies this process in userClose messages.
func newUserID() string {
	return uuid.NewString()
}
