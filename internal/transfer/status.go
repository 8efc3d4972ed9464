// Package transfer implements the sender and receiver state machines of the
// relay chunk protocol.
//
// A machine is an owned value that consumes one Event at a time and returns
// the Effects the caller must perform, in order. Machines never touch the
// network or the filesystem themselves.
//
// Flow control is a window of one: the sender never has more than one chunk
// without an acknowledgment, and every acknowledgment is checked against the
// chunk it answers before any counter moves. A mismatch ends the transfer.
package transfer

import "github.com/sheerbytes/relaydrop/pkg/protocol"

const (
	closeNormal    = protocol.CloseNormal
	closeGoingAway = protocol.CloseGoingAway
	closeAbnormal  = protocol.CloseAbnormal
	closeInternal  = protocol.CloseInternal
)

// Status is a point-in-time view of a session for display.
type Status struct {
	ChunkIndex      uint32
	UploadedBytes   uint64
	TotalChunks     uint32
	TotalSize       uint64
	ProgressPercent int

	Transferring bool
	Error        bool
	Canceled     bool
	Completed    bool

	// Message is a human readable description of why the session ended.
	Message string
}

// Progress returns the integer percentage of done out of total.
func Progress(done, total uint64) int {
	if total == 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}

// SenderState enumerates the sender's states.
type SenderState uint8

const (
	SenderIdle SenderState = iota
	SenderRegistering
	SenderAwaitingPeer
	SenderReady
	SenderTransferring
	SenderCompleted
	SenderCanceled
	SenderError
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "idle"
	case SenderRegistering:
		return "registering"
	case SenderAwaitingPeer:
		return "awaiting_peer"
	case SenderReady:
		return "ready"
	case SenderTransferring:
		return "transferring"
	case SenderCompleted:
		return "completed"
	case SenderCanceled:
		return "canceled"
	case SenderError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s can only be left by starting a new session.
func (s SenderState) Terminal() bool {
	return s == SenderCompleted || s == SenderCanceled || s == SenderError
}

// ReceiverState enumerates the receiver's states.
type ReceiverState uint8

const (
	ReceiverIdle ReceiverState = iota
	ReceiverRegistering
	ReceiverWaitingForSender
	ReceiverReceiving
	ReceiverCompleted
	ReceiverCanceled
	ReceiverError
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "idle"
	case ReceiverRegistering:
		return "registering"
	case ReceiverWaitingForSender:
		return "waiting_for_sender"
	case ReceiverReceiving:
		return "receiving"
	case ReceiverCompleted:
		return "completed"
	case ReceiverCanceled:
		return "canceled"
	case ReceiverError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether s can only be left by starting a new session.
func (s ReceiverState) Terminal() bool {
	return s == ReceiverCompleted || s == ReceiverCanceled || s == ReceiverError
}
