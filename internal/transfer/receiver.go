package transfer

import (
	"errors"
	"fmt"
	"io"

	"github.com/sheerbytes/relaydrop/internal/chunk"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

// ReceiverConfig names the sender to pair with.
type ReceiverConfig struct {
	SenderID string
	// Meta is the sender's file metadata if it was fetched before connecting.
	// When nil the receiver asks for it once registered.
	Meta   *protocol.FileMeta
	UserID string
	// Sink receives the file bytes in order as chunks are accepted, and
	// Deliver then carries no data. When nil the file is held in memory,
	// up to chunk.MaxBufferedSize.
	Sink io.Writer
}

// Receiver is the receiving side of one session. Like Sender it is owned by a
// single goroutine.
type Receiver struct {
	cfg   ReceiverConfig
	state ReceiverState

	localID  string
	meta     protocol.FileMeta
	haveMeta bool

	totalSize   uint64
	totalChunks uint32
	received    uint64
	pending     *protocol.FileChunk
	buf         *chunk.Reassembler

	err *SessionError
}

// NewReceiver returns a receiver in the idle state.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	r := &Receiver{cfg: cfg}
	if cfg.Meta != nil {
		r.meta = *cfg.Meta
		r.haveMeta = true
	}
	return r
}

// State returns the current state.
func (r *Receiver) State() ReceiverState { return r.state }

// Terminal reports whether the session is over.
func (r *Receiver) Terminal() bool { return r.state.Terminal() }

// LocalID returns the connection id assigned by the relay.
func (r *Receiver) LocalID() string { return r.localID }

// Meta returns the sender's file metadata and whether it is known yet.
func (r *Receiver) Meta() (protocol.FileMeta, bool) { return r.meta, r.haveMeta }

// Err returns why the session ended, or nil while running and after completion.
func (r *Receiver) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Status returns a snapshot for display.
func (r *Receiver) Status() Status {
	st := Status{
		UploadedBytes: r.received,
		TotalChunks:   r.totalChunks,
		TotalSize:     r.totalSize,
		Transferring:  r.state == ReceiverReceiving,
		Error:         r.state == ReceiverError,
		Canceled:      r.state == ReceiverCanceled,
		Completed:     r.state == ReceiverCompleted,
	}
	if st.TotalSize == 0 && r.haveMeta {
		st.TotalSize = r.meta.Size
	}
	if r.buf != nil {
		st.ChunkIndex = r.buf.Next()
	}
	st.ProgressPercent = Progress(r.received, st.TotalSize)
	if r.state == ReceiverCompleted {
		st.ProgressPercent = 100
	}
	if r.err != nil {
		st.Message = r.err.Error()
	}
	return st
}

// Handle applies ev and returns the effects to perform.
func (r *Receiver) Handle(ev Event) []Effect {
	switch ev := ev.(type) {
	case Opened:
		if r.state == ReceiverIdle {
			r.state = ReceiverRegistering
		}
		return nil
	case Inbound:
		if r.Terminal() {
			return nil
		}
		return r.handleMessage(ev.Msg)
	case Binary:
		if r.Terminal() {
			return nil
		}
		return r.binary(ev.Data)
	case MetadataLoaded:
		return r.metadataLoaded(ev)
	case Cancel:
		return r.cancel()
	case Depart:
		return r.depart(ev.Reason)
	case Closed:
		if r.Terminal() {
			return nil
		}
		r.fail(closedKind(ev.Code), closeMessage(ev.Code, ev.Reason), nil)
		return nil
	default:
		return diag("receiver cannot handle %T in state %s", ev, r.state)
	}
}

func (r *Receiver) handleMessage(msg protocol.Message) []Effect {
	switch m := msg.(type) {
	case protocol.Register:
		if r.state != ReceiverRegistering {
			return diag("register in state %s", r.state)
		}
		if m.ConnectionID == "" {
			return r.failAndClose(KindRelayRejected, "relay assigned no connection id")
		}
		r.localID = m.ConnectionID
		r.state = ReceiverWaitingForSender
		effects := []Effect{SendControl{Msg: protocol.RecipientReady{SenderID: r.cfg.SenderID, RecipientID: r.localID}}}
		if !r.haveMeta {
			effects = append(effects, FetchMetadata{SenderID: r.cfg.SenderID})
		}
		return effects

	case protocol.FileMeta:
		if r.haveMeta {
			if m != r.meta {
				return diag("sender announced %q (%d bytes) after %q (%d bytes)", m.Name, m.Size, r.meta.Name, r.meta.Size)
			}
			return nil
		}
		return r.setMeta(m)

	case protocol.SenderReady:
		if m.SenderID != "" && m.SenderID != r.cfg.SenderID {
			return diag("senderReady from %q, expected %q", m.SenderID, r.cfg.SenderID)
		}
		return nil

	case protocol.FileChunk:
		return r.chunkHeader(m)

	case protocol.FileEnd:
		return r.fileEnd(m)

	case protocol.CancelSenderReady, protocol.CancelSenderTransfer:
		r.fail(KindPeerCanceled, "sender canceled the transfer", nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "peer canceled"}}

	case protocol.PeerDisconnected:
		if m.PeerID != "" && m.PeerID != r.cfg.SenderID {
			return diag("peerDisconnected for %q, not our sender", m.PeerID)
		}
		r.fail(KindPeerDisconnected, "the sender is no longer reachable", nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "peer disconnected"}}

	case protocol.UserClose:
		if m.Role == protocol.RoleReceiver {
			return diag("userClose from receiver %q, not our sender", m.UserID)
		}
		r.fail(KindPeerDisconnected, fmt.Sprintf("the sender left: %s", m.Reason), nil)
		return []Effect{CloseTransport{Code: closeNormal, Reason: "peer left"}}

	case protocol.Failure:
		return r.failAndClose(KindRelayRejected, fmt.Sprintf("%s: %s", m.MessageType(), m.Message))

	case protocol.Unknown:
		return diag("unknown message type %q", m.Type)

	case protocol.Malformed:
		if r.state == ReceiverReceiving {
			return r.violation(m.Err.Error())
		}
		return diag("malformed %s: %v", m.Type, m.Err)

	default:
		return diag("receiver does not expect %s in state %s", msg.MessageType(), r.state)
	}
}

func (r *Receiver) chunkHeader(m protocol.FileChunk) []Effect {
	switch r.state {
	case ReceiverWaitingForSender:
		if m.ChunkIndex != 0 {
			return r.violation(fmt.Sprintf("first chunk has index %d", m.ChunkIndex))
		}
		if r.haveMeta && m.TotalSize != r.meta.Size {
			return r.violation(fmt.Sprintf("chunk announces %d bytes, metadata says %d", m.TotalSize, r.meta.Size))
		}
		if m.TotalChunks != chunk.TotalChunks(m.TotalSize) {
			return r.violation(fmt.Sprintf("%d chunks cannot carry %d bytes", m.TotalChunks, m.TotalSize))
		}
		buf, err := r.newBuffer(m.TotalSize)
		if err != nil {
			return r.abort(KindApplication, fmt.Sprintf("cannot accept %d bytes", m.TotalSize), err)
		}
		r.state = ReceiverReceiving
		r.buf = buf
		r.received = 0
		r.pending = nil
		r.totalSize = m.TotalSize
		r.totalChunks = m.TotalChunks

	case ReceiverReceiving:
		if r.pending != nil {
			return r.violation(fmt.Sprintf("header for chunk %d while chunk %d has no data", m.ChunkIndex, r.pending.ChunkIndex))
		}
		if m.ChunkIndex != r.buf.Next() {
			return r.violation(fmt.Sprintf("chunk %d out of order, want %d", m.ChunkIndex, r.buf.Next()))
		}
		if m.TotalSize != r.totalSize || m.TotalChunks != r.totalChunks {
			return r.violation("chunk totals changed mid-transfer")
		}

	default:
		return diag("fileChunk %d in state %s", m.ChunkIndex, r.state)
	}

	_, length, err := chunk.Bounds(m.ChunkIndex, r.totalSize)
	if err != nil {
		return r.violation(err.Error())
	}
	if m.ChunkByteLength != uint32(length) {
		return r.violation(fmt.Sprintf("chunk %d declares %d bytes, want %d", m.ChunkIndex, m.ChunkByteLength, length))
	}
	if m.UploadedBytes != r.received+uint64(length) {
		return r.violation(fmt.Sprintf("chunk %d declares %d uploaded bytes, want %d", m.ChunkIndex, m.UploadedBytes, r.received+uint64(length)))
	}
	r.pending = &m
	return nil
}

func (r *Receiver) binary(data []byte) []Effect {
	if r.state != ReceiverReceiving {
		return diag("binary frame of %d bytes in state %s", len(data), r.state)
	}
	if r.pending == nil {
		return r.violation("binary frame without a chunk header")
	}
	hdr := r.pending
	if uint32(len(data)) != hdr.ChunkByteLength {
		return r.violation(fmt.Sprintf("chunk %d carried %d bytes, header said %d", hdr.ChunkIndex, len(data), hdr.ChunkByteLength))
	}
	if err := r.buf.Append(hdr.ChunkIndex, data); err != nil {
		if errors.Is(err, chunk.ErrOutOfOrder) || errors.Is(err, chunk.ErrOverflow) {
			return r.violation(err.Error())
		}
		return r.abort(KindApplication, "store received data", err)
	}
	r.pending = nil
	r.received += uint64(len(data))
	return []Effect{SendControl{Msg: protocol.FileTransferAck{
		Status:        protocol.AckAcknowledged,
		ChunkIndex:    hdr.ChunkIndex,
		UploadedBytes: r.received,
		Progress:      Progress(r.received, r.totalSize),
	}}}
}

func (r *Receiver) fileEnd(m protocol.FileEnd) []Effect {
	switch r.state {
	case ReceiverWaitingForSender:
		// An empty file has no chunks: the end arrives without a first chunk.
		if m.TotalSize != 0 || m.TotalChunks != 0 || m.LastChunkIndex != 0 || m.UploadedBytes != 0 {
			return r.violation(fmt.Sprintf("end of file at chunk %d before any chunk", m.LastChunkIndex))
		}
		if r.haveMeta && r.meta.Size != 0 {
			return r.violation(fmt.Sprintf("empty end of file, metadata says %d bytes", r.meta.Size))
		}
		buf, _ := r.newBuffer(0)
		r.buf = buf
		r.totalSize = 0
		r.totalChunks = 0
		r.received = 0
		return r.complete(m)

	case ReceiverReceiving:
		if r.pending != nil {
			return r.violation(fmt.Sprintf("end of file while chunk %d has no data", r.pending.ChunkIndex))
		}
		if m.LastChunkIndex != r.buf.Next() {
			return r.violation(fmt.Sprintf("end of file after chunk %d, received %d chunks", m.LastChunkIndex, r.buf.Next()))
		}
		if m.UploadedBytes != r.received {
			return r.violation(fmt.Sprintf("end of file reports %d bytes, received %d", m.UploadedBytes, r.received))
		}
		if m.TotalSize != r.totalSize || !r.buf.Complete() {
			return r.violation(fmt.Sprintf("end of file with %d of %d bytes", r.received, r.totalSize))
		}
		return r.complete(m)

	default:
		return diag("fileEnd in state %s", r.state)
	}
}

func (r *Receiver) complete(m protocol.FileEnd) []Effect {
	meta := r.meta
	if !r.haveMeta {
		meta = protocol.FileMeta{Size: r.totalSize}
	}
	r.state = ReceiverCompleted
	return []Effect{
		Deliver{Meta: meta, Data: r.buf.Bytes()},
		SendControl{Msg: protocol.FileTransferAck{
			Status:        protocol.AckCompleted,
			ChunkIndex:    m.LastChunkIndex,
			UploadedBytes: r.received,
			Progress:      100,
		}},
		CloseTransport{Code: closeNormal, Reason: fmt.Sprintf("received %s", meta.Name)},
	}
}

func (r *Receiver) newBuffer(total uint64) (*chunk.Reassembler, error) {
	if r.cfg.Sink != nil {
		return chunk.NewStreamingReassembler(total, r.cfg.Sink)
	}
	return chunk.NewReassembler(total)
}

func (r *Receiver) metadataLoaded(ev MetadataLoaded) []Effect {
	if r.Terminal() {
		return nil
	}
	if ev.Err != nil {
		return r.abort(KindApplication, "fetch file metadata", ev.Err)
	}
	if r.haveMeta {
		return nil
	}
	return r.setMeta(ev.Meta)
}

func (r *Receiver) setMeta(m protocol.FileMeta) []Effect {
	if r.state == ReceiverReceiving && m.Size != r.totalSize {
		return r.violation(fmt.Sprintf("metadata says %d bytes, transfer announces %d", m.Size, r.totalSize))
	}
	r.meta = m
	r.haveMeta = true
	return nil
}

func (r *Receiver) violation(msg string) []Effect {
	var next uint32
	if r.buf != nil {
		next = r.buf.Next()
	}
	ack := protocol.FileTransferAck{
		Status:        protocol.AckError,
		ChunkIndex:    next,
		UploadedBytes: r.received,
		Progress:      Progress(r.received, r.totalSize),
	}
	r.fail(KindProtocolViolation, msg, nil)
	return []Effect{
		SendControl{Msg: ack},
		CloseTransport{Code: closeNormal, Reason: "protocol violation"},
	}
}

// abort ends the session locally, telling the sender through the matching cancel message.
func (r *Receiver) abort(kind ErrorKind, msg string, cause error) []Effect {
	var effects []Effect
	switch r.state {
	case ReceiverWaitingForSender:
		effects = append(effects, SendControl{Msg: protocol.CancelRecipientReady{CancelIDs: r.ids()}})
	case ReceiverReceiving:
		effects = append(effects, SendControl{Msg: protocol.CancelRecipientTransfer{CancelIDs: r.ids()}})
	}
	r.fail(kind, msg, cause)
	return append(effects, CloseTransport{Code: closeNormal, Reason: msg})
}

func (r *Receiver) cancel() []Effect {
	if r.Terminal() {
		return nil
	}
	return r.abort(KindCanceled, "canceled by user", nil)
}

func (r *Receiver) depart(reason string) []Effect {
	if r.Terminal() {
		return nil
	}
	if reason == "" {
		reason = "receiver left"
	}
	var effects []Effect
	if r.state != ReceiverIdle {
		effects = append(effects, SendControl{Msg: protocol.UserClose{UserID: r.cfg.UserID, Role: protocol.RoleReceiver, Reason: reason}})
	}
	r.fail(KindCanceled, reason, nil)
	return append(effects, CloseTransport{Code: closeGoingAway, Reason: reason})
}

func (r *Receiver) failAndClose(kind ErrorKind, msg string) []Effect {
	r.fail(kind, msg, nil)
	return []Effect{CloseTransport{Code: closeNormal, Reason: msg}}
}

func (r *Receiver) fail(kind ErrorKind, msg string, cause error) {
	r.err = &SessionError{Kind: kind, Message: msg, Err: cause}
	switch kind {
	case KindCanceled, KindPeerCanceled:
		r.state = ReceiverCanceled
	default:
		r.state = ReceiverError
	}
	// No partial delivery: whatever arrived is dropped.
	r.pending = nil
	r.buf = nil
	if kind != KindProtocolViolation {
		r.received = 0
		r.totalSize = 0
		r.totalChunks = 0
	}
}

func (r *Receiver) ids() protocol.CancelIDs {
	return protocol.CancelIDs{SenderID: r.cfg.SenderID, RecipientID: r.localID}
}
