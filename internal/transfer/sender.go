package transfer

import (
	"fmt"

	"github.com/sheerbytes/relaydrop/internal/chunk"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

// SenderConfig describes the file being offered.
type SenderConfig struct {
	Meta      protocol.FileMeta
	ShareBase string // base URL of share links
	UserID    string // reported in userClose
}

// Sender is the sending side of one session. It is not safe for concurrent use;
// a single goroutine owns it and feeds it events.
type Sender struct {
	cfg   SenderConfig
	state SenderState

	localID string
	peerID  string

	totalChunks uint32
	index       uint32 // next chunk to send; equals chunks acknowledged
	offset      uint64 // bytes acknowledged
	inFlight    bool
	inFlightLen uint32
	readPending bool
	endSent     bool

	err *SessionError
}

// NewSender returns a sender in the idle state.
func NewSender(cfg SenderConfig) *Sender {
	return &Sender{cfg: cfg}
}

// State returns the current state.
func (s *Sender) State() SenderState { return s.state }

// Terminal reports whether the session is over.
func (s *Sender) Terminal() bool { return s.state.Terminal() }

// LocalID returns the connection id assigned by the relay.
func (s *Sender) LocalID() string { return s.localID }

// PeerID returns the paired receiver's connection id.
func (s *Sender) PeerID() string { return s.peerID }

// Err returns why the session ended, or nil while running and after completion.
func (s *Sender) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// Status returns a snapshot for display.
func (s *Sender) Status() Status {
	st := Status{
		ChunkIndex:      s.index,
		UploadedBytes:   s.offset,
		TotalChunks:     s.totalChunks,
		TotalSize:       s.cfg.Meta.Size,
		ProgressPercent: Progress(s.offset, s.cfg.Meta.Size),
		Transferring:    s.state == SenderTransferring,
		Error:           s.state == SenderError,
		Canceled:        s.state == SenderCanceled,
		Completed:       s.state == SenderCompleted,
	}
	if s.state == SenderCompleted {
		st.ProgressPercent = 100
	}
	if s.err != nil {
		st.Message = s.err.Error()
	}
	return st
}

// Handle applies ev and returns the effects to perform.
func (s *Sender) Handle(ev Event) []Effect {
	switch ev := ev.(type) {
	case Opened:
		if s.state == SenderIdle {
			s.state = SenderRegistering
		}
		return nil
	case Inbound:
		if s.Terminal() {
			return nil
		}
		return s.handleMessage(ev.Msg)
	case Start:
		return s.start()
	case ChunkLoaded:
		return s.chunkLoaded(ev)
	case Cancel:
		return s.cancel()
	case Depart:
		return s.depart(ev.Reason)
	case Closed:
		if s.Terminal() {
			return nil
		}
		s.fail(closedKind(ev.Code), closeMessage(ev.Code, ev.Reason), nil)
		return nil
	case Binary:
		if s.Terminal() {
			return nil
		}
		return diag("sender received an unexpected binary frame of %d bytes", len(ev.Data))
	default:
		return diag("sender cannot handle %T in state %s", ev, s.state)
	}
}

func (s *Sender) handleMessage(msg protocol.Message) []Effect {
	switch m := msg.(type) {
	case protocol.Register:
		if s.state != SenderRegistering {
			return diag("register in state %s", s.state)
		}
		if m.ConnectionID == "" {
			return s.failAndClose(KindRelayRejected, "relay assigned no connection id")
		}
		s.localID = m.ConnectionID
		s.state = SenderAwaitingPeer
		return []Effect{
			SendControl{Msg: s.cfg.Meta},
			PublishLink{ConnectionID: s.localID, URL: ShareLink(s.cfg.ShareBase, s.localID)},
		}

	case protocol.RecipientReady:
		if s.state != SenderAwaitingPeer {
			return diag("recipientReady from %q in state %s", m.RecipientID, s.state)
		}
		if m.RecipientID == "" {
			return diag("recipientReady without recipientId")
		}
		s.peerID = m.RecipientID
		s.state = SenderReady
		return []Effect{SendControl{Msg: protocol.SenderReady{SenderID: s.localID, RecipientID: s.peerID}}}

	case protocol.FileTransferAck:
		return s.ack(m)

	case protocol.CancelRecipientReady, protocol.CancelRecipientTransfer:
		s.fail(KindPeerCanceled, "receiver canceled the transfer", nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "peer canceled"}}

	case protocol.PeerDisconnected:
		if s.peerID == "" || (m.PeerID != "" && m.PeerID != s.peerID) {
			return diag("peerDisconnected for %q, not our peer", m.PeerID)
		}
		s.fail(KindPeerDisconnected, "the receiver is no longer reachable", nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "peer disconnected"}}

	case protocol.UserClose:
		if s.peerID == "" || m.Role == protocol.RoleSender {
			return diag("userClose from %s %q, not our peer", m.Role, m.UserID)
		}
		s.fail(KindPeerDisconnected, fmt.Sprintf("the receiver left: %s", m.Reason), nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "peer left"}}

	case protocol.Failure:
		return s.failAndClose(KindRelayRejected, fmt.Sprintf("%s: %s", m.MessageType(), m.Message))

	case protocol.Unknown:
		return diag("unknown message type %q", m.Type)

	case protocol.Malformed:
		// While streaming, an unreadable message may be the ack we wait for.
		if s.state == SenderTransferring {
			return s.violation(m.Err.Error())
		}
		return diag("malformed %s: %v", m.Type, m.Err)

	default:
		return diag("sender does not expect %s in state %s", msg.MessageType(), s.state)
	}
}

func (s *Sender) start() []Effect {
	if s.state != SenderReady {
		return diag("start requested in state %s", s.state)
	}
	s.state = SenderTransferring
	s.index = 0
	s.offset = 0
	s.inFlight = false
	s.endSent = false
	s.totalChunks = chunk.TotalChunks(s.cfg.Meta.Size)
	if s.totalChunks == 0 {
		return s.sendEnd()
	}
	s.readPending = true
	return []Effect{ReadChunk{Index: 0}}
}

func (s *Sender) chunkLoaded(ev ChunkLoaded) []Effect {
	// Reads started before a cancel or failure finish here and are dropped.
	if s.state != SenderTransferring || !s.readPending || ev.Index != s.index {
		return nil
	}
	s.readPending = false
	if ev.Err != nil {
		s.fail(KindApplication, fmt.Sprintf("read chunk %d", ev.Index), ev.Err)
		return []Effect{CloseTransport{Code: closeInternal, Reason: "local read error"}}
	}
	_, length, err := chunk.Bounds(ev.Index, s.cfg.Meta.Size)
	if err != nil || len(ev.Data) != length {
		s.fail(KindApplication, fmt.Sprintf("chunk %d has %d bytes, want %d", ev.Index, len(ev.Data), length), err)
		return []Effect{CloseTransport{Code: closeInternal, Reason: "local read error"}}
	}

	s.inFlight = true
	s.inFlightLen = uint32(length)
	uploaded := s.offset + uint64(length)
	return []Effect{
		SendControl{Msg: protocol.FileChunk{
			ChunkIndex:      s.index,
			TotalChunks:     s.totalChunks,
			TotalSize:       s.cfg.Meta.Size,
			ChunkByteLength: uint32(length),
			UploadedBytes:   uploaded,
			Progress:        Progress(uploaded, s.cfg.Meta.Size),
		}},
		SendBinary{Data: ev.Data},
	}
}

func (s *Sender) ack(m protocol.FileTransferAck) []Effect {
	if s.state != SenderTransferring {
		return diag("fileTransferAck(%s, chunk %d) in state %s", m.Status, m.ChunkIndex, s.state)
	}

	switch m.Status {
	case protocol.AckError:
		s.fail(KindProtocolViolation, fmt.Sprintf("receiver reported an error at chunk %d", m.ChunkIndex), nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "receiver reported an error"}}

	case protocol.AckCompleted:
		if !s.endSent {
			return s.violation("completed ack before end of file")
		}
		if m.UploadedBytes != s.offset {
			return s.violation(fmt.Sprintf("completed ack with %d bytes, sent %d", m.UploadedBytes, s.offset))
		}
		s.state = SenderCompleted
		return []Effect{CloseTransport{Code: closeNormal, Reason: fmt.Sprintf("transfer of %s complete", s.cfg.Meta.Name)}}

	case protocol.AckAcknowledged:
		if s.endSent {
			return s.violation("chunk ack after end of file")
		}
		if !s.inFlight {
			return s.violation(fmt.Sprintf("ack for chunk %d with no chunk in flight", m.ChunkIndex))
		}
		if m.ChunkIndex != s.index {
			return s.violation(fmt.Sprintf("ack for chunk %d, last sent %d", m.ChunkIndex, s.index))
		}
		want := s.offset + uint64(s.inFlightLen)
		if m.UploadedBytes != want {
			return s.violation(fmt.Sprintf("ack reports %d bytes, sent %d", m.UploadedBytes, want))
		}

		s.inFlight = false
		s.offset = want
		s.index++
		if s.index == s.totalChunks {
			return s.sendEnd()
		}
		s.readPending = true
		return []Effect{ReadChunk{Index: s.index}}

	default:
		return s.violation(fmt.Sprintf("unknown ack status %q", m.Status))
	}
}

func (s *Sender) sendEnd() []Effect {
	s.endSent = true
	return []Effect{SendControl{Msg: protocol.FileEnd{
		LastChunkIndex: s.index,
		TotalChunks:    s.totalChunks,
		TotalSize:      s.cfg.Meta.Size,
		UploadedBytes:  s.offset,
	}}}
}

func (s *Sender) violation(msg string) []Effect {
	cancel := protocol.CancelSenderTransfer{CancelIDs: s.ids()}
	s.fail(KindProtocolViolation, msg, nil)
	return []Effect{
		SendControl{Msg: cancel},
		CloseTransport{Code: closeNormal, Reason: "protocol violation"},
	}
}

func (s *Sender) cancel() []Effect {
	if s.Terminal() {
		return nil
	}
	var effects []Effect
	switch s.state {
	case SenderAwaitingPeer, SenderReady:
		effects = append(effects, SendControl{Msg: protocol.CancelSenderReady{CancelIDs: s.ids()}})
	case SenderTransferring:
		effects = append(effects, SendControl{Msg: protocol.CancelSenderTransfer{CancelIDs: s.ids()}})
	}
	s.fail(KindCanceled, "canceled by user", nil)
	return append(effects, CloseTransport{Code: closeNormal, Reason: "canceled by user"})
}

func (s *Sender) depart(reason string) []Effect {
	if s.Terminal() {
		return nil
	}
	if reason == "" {
		reason = "sender left"
	}
	var effects []Effect
	if s.state != SenderIdle {
		effects = append(effects, SendControl{Msg: protocol.UserClose{UserID: s.cfg.UserID, Role: protocol.RoleSender, Reason: reason}})
	}
	s.fail(KindCanceled, reason, nil)
	return append(effects, CloseTransport{Code: closeGoingAway, Reason: reason})
}

func (s *Sender) failAndClose(kind ErrorKind, msg string) []Effect {
	s.fail(kind, msg, nil)
	return []Effect{CloseTransport{Code: closeNormal, Reason: msg}}
}

func (s *Sender) fail(kind ErrorKind, msg string, cause error) {
	s.err = &SessionError{Kind: kind, Message: msg, Err: cause}
	switch kind {
	case KindCanceled, KindPeerCanceled:
		s.state = SenderCanceled
	default:
		s.state = SenderError
	}
	if kind != KindProtocolViolation {
		s.clearCounters()
	}
	s.readPending = false
	s.inFlight = false
}

func (s *Sender) clearCounters() {
	s.index = 0
	s.offset = 0
	s.totalChunks = 0
	s.inFlightLen = 0
	s.endSent = false
}

func (s *Sender) ids() protocol.CancelIDs {
	return protocol.CancelIDs{SenderID: s.localID, RecipientID: s.peerID}
}

func diag(format string, args ...any) []Effect {
	return []Effect{Diagnostic{Message: fmt.Sprintf(format, args...)}}
}
