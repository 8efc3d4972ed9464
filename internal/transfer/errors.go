package transfer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a session ended without completing.
type ErrorKind uint8

const (
	KindCanceled ErrorKind = iota + 1
	KindPeerCanceled
	KindPeerDisconnected
	KindTransportLoss
	KindProtocolViolation
	KindApplication
	KindRelayRejected
)

var (
	ErrCanceled          = errors.New("transfer canceled")
	ErrPeerCanceled      = errors.New("peer canceled the transfer")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrTransportLoss     = errors.New("connection lost")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrApplication       = errors.New("local error")
	ErrRelayRejected     = errors.New("relay rejected the request")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindCanceled:
		return ErrCanceled
	case KindPeerCanceled:
		return ErrPeerCanceled
	case KindPeerDisconnected:
		return ErrPeerDisconnected
	case KindTransportLoss:
		return ErrTransportLoss
	case KindProtocolViolation:
		return ErrProtocolViolation
	case KindApplication:
		return ErrApplication
	case KindRelayRejected:
		return ErrRelayRejected
	default:
		return errors.New("unknown error")
	}
}

func (k ErrorKind) String() string {
	return k.sentinel().Error()
}

// SessionError is the terminal error of a session. It matches its kind's
// sentinel with errors.Is, and the underlying cause if there is one.
type SessionError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// closedKind classifies a transport close seen before the session ended.
// A normal close is not an error, but the session cannot continue either.
func closedKind(code int) ErrorKind {
	if code == closeNormal {
		return KindCanceled
	}
	return KindTransportLoss
}

func closeMessage(code int, reason string) string {
	switch code {
	case closeNormal:
		return "connection closed by the server"
	case closeAbnormal:
		return "lost connection to the server"
	default:
		if reason != "" {
			return fmt.Sprintf("disconnected (code %d): %s", code, reason)
		}
		return fmt.Sprintf("disconnected (code %d)", code)
	}
}
