package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

func testMeta(size uint64) protocol.FileMeta {
	return protocol.FileMeta{Name: "a.bin", Size: size, MimeType: "application/octet-stream"}
}

// readySender walks a sender through registration and pairing.
func readySender(t *testing.T, size uint64) *Sender {
	t.Helper()
	s := NewSender(SenderConfig{Meta: testMeta(size), ShareBase: "https://drop.example/r", UserID: "user-s"})
	require.Empty(t, s.Handle(Opened{}))
	require.Equal(t, SenderRegistering, s.State())

	effects := s.Handle(Inbound{Msg: protocol.Register{Success: true, ConnectionID: "s-1"}})
	require.Equal(t, SenderAwaitingPeer, s.State())
	require.Len(t, effects, 2)
	assert.Equal(t, SendControl{Msg: testMeta(size)}, effects[0])
	assert.Equal(t, PublishLink{ConnectionID: "s-1", URL: "https://drop.example/r?id=s-1"}, effects[1])

	effects = s.Handle(Inbound{Msg: protocol.RecipientReady{RecipientID: "r-1"}})
	require.Equal(t, SenderReady, s.State())
	require.Equal(t, []Effect{SendControl{Msg: protocol.SenderReady{SenderID: "s-1", RecipientID: "r-1"}}}, effects)
	return s
}

func sentMessages(effects []Effect) []protocol.Message {
	var out []protocol.Message
	for _, e := range effects {
		if sc, ok := e.(SendControl); ok {
			out = append(out, sc.Msg)
		}
	}
	return out
}

func hasEffect[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func closeOf(t *testing.T, effects []Effect) CloseTransport {
	t.Helper()
	for _, e := range effects {
		if c, ok := e.(CloseTransport); ok {
			return c
		}
	}
	t.Fatalf("no CloseTransport in %#v", effects)
	return CloseTransport{}
}

func TestSender_StreamsTwoChunks(t *testing.T) {
	s := readySender(t, 131073)

	effects := s.Handle(Start{})
	require.Equal(t, []Effect{ReadChunk{Index: 0}}, effects)
	assert.True(t, s.Status().Transferring)
	assert.Equal(t, uint32(2), s.Status().TotalChunks)

	first := make([]byte, 131072)
	effects = s.Handle(ChunkLoaded{Index: 0, Data: first})
	require.Len(t, effects, 2)
	assert.Equal(t, SendControl{Msg: protocol.FileChunk{
		ChunkIndex: 0, TotalChunks: 2, TotalSize: 131073, ChunkByteLength: 131072, UploadedBytes: 131072, Progress: 99,
	}}, effects[0])
	assert.Equal(t, SendBinary{Data: first}, effects[1])

	effects = s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckAcknowledged, ChunkIndex: 0, UploadedBytes: 131072}})
	require.Equal(t, []Effect{ReadChunk{Index: 1}}, effects)
	assert.Equal(t, uint32(1), s.Status().ChunkIndex)
	assert.Equal(t, uint64(131072), s.Status().UploadedBytes)

	effects = s.Handle(ChunkLoaded{Index: 1, Data: []byte{7}})
	require.Len(t, effects, 2)
	assert.Equal(t, uint32(1), effects[0].(SendControl).Msg.(protocol.FileChunk).ChunkByteLength)

	effects = s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckAcknowledged, ChunkIndex: 1, UploadedBytes: 131073}})
	require.Equal(t, []Effect{SendControl{Msg: protocol.FileEnd{
		LastChunkIndex: 2, TotalChunks: 2, TotalSize: 131073, UploadedBytes: 131073,
	}}}, effects)
	assert.Equal(t, SenderTransferring, s.State())

	effects = s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckCompleted, ChunkIndex: 2, UploadedBytes: 131073, Progress: 100}})
	assert.Equal(t, SenderCompleted, s.State())
	c := closeOf(t, effects)
	assert.Equal(t, 1000, c.Code)
	assert.Contains(t, c.Reason, "a.bin")
	assert.NoError(t, s.Err())
	assert.Equal(t, 100, s.Status().ProgressPercent)
	assert.True(t, s.Status().Completed)
}

func TestSender_OffByOneAckAborts(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})
	s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 131072)})

	effects := s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckAcknowledged, ChunkIndex: 1, UploadedBytes: 131072}})

	assert.Equal(t, SenderError, s.State())
	assert.True(t, errors.Is(s.Err(), ErrProtocolViolation))
	assert.False(t, hasEffect[ReadChunk](effects), "must not request chunk 1")
	assert.False(t, hasEffect[SendBinary](effects))
	assert.Contains(t, sentMessages(effects), protocol.Message(protocol.CancelSenderTransfer{CancelIDs: protocol.CancelIDs{SenderID: "s-1", RecipientID: "r-1"}}))
	assert.Equal(t, 1000, closeOf(t, effects).Code)
	assert.True(t, s.Status().Error)
}

func TestSender_UndecodableAckAborts(t *testing.T) {
	bad := protocol.Malformed{Type: protocol.TypeFileTransferAck, Err: errors.New("unmarshal fileTransferAck: negative chunkIndex")}

	s := readySender(t, 10)
	effects := s.Handle(Inbound{Msg: bad})
	assert.True(t, hasEffect[Diagnostic](effects), "outside a transfer it is only reported")
	assert.Equal(t, SenderReady, s.State())

	s.Handle(Start{})
	s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 10)})
	effects = s.Handle(Inbound{Msg: bad})

	assert.Equal(t, SenderError, s.State())
	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.Contains(t, s.Err().Error(), "negative chunkIndex")
	assert.Equal(t, []protocol.Message{protocol.CancelSenderTransfer{CancelIDs: protocol.CancelIDs{SenderID: "s-1", RecipientID: "r-1"}}}, sentMessages(effects))
	assert.Equal(t, 1000, closeOf(t, effects).Code)
}

func TestSender_AckValidation(t *testing.T) {
	tests := []struct {
		name string
		ack  protocol.FileTransferAck
	}{
		{"byte count mismatch", protocol.FileTransferAck{Status: protocol.AckAcknowledged, ChunkIndex: 0, UploadedBytes: 131071}},
		{"index behind", protocol.FileTransferAck{Status: protocol.AckAcknowledged, ChunkIndex: 5, UploadedBytes: 131072}},
		{"completed too early", protocol.FileTransferAck{Status: protocol.AckCompleted, ChunkIndex: 0, UploadedBytes: 131072}},
		{"unknown status", protocol.FileTransferAck{Status: "maybe", ChunkIndex: 0, UploadedBytes: 131072}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := readySender(t, 3*131072)
			s.Handle(Start{})
			s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 131072)})

			effects := s.Handle(Inbound{Msg: tt.ack})
			assert.Equal(t, SenderError, s.State())
			assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
			assert.False(t, hasEffect[ReadChunk](effects))
		})
	}
}

func TestSender_AckWithNothingInFlight(t *testing.T) {
	s := readySender(t, 3*131072)
	s.Handle(Start{})

	// Chunk 0 is still being read; an ack now answers nothing.
	effects := s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckAcknowledged, ChunkIndex: 0, UploadedBytes: 131072}})
	assert.Equal(t, SenderError, s.State())
	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.True(t, hasEffect[CloseTransport](effects))

	// The read that was already running is discarded when it lands.
	assert.Empty(t, s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 131072)}))
}

func TestSender_PeerReportedError(t *testing.T) {
	s := readySender(t, 10)
	s.Handle(Start{})
	s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 10)})

	effects := s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckError, ChunkIndex: 0}})
	assert.Equal(t, SenderError, s.State())
	assert.ErrorIs(t, s.Err(), ErrProtocolViolation)
	assert.Empty(t, sentMessages(effects), "peer already aborted, nothing to send")
}

func TestSender_EmptyFile(t *testing.T) {
	s := readySender(t, 0)

	effects := s.Handle(Start{})
	require.Equal(t, []Effect{SendControl{Msg: protocol.FileEnd{}}}, effects)
	assert.Equal(t, uint32(0), s.Status().TotalChunks)

	effects = s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckCompleted, Progress: 100}})
	assert.Equal(t, SenderCompleted, s.State())
	assert.Equal(t, 1000, closeOf(t, effects).Code)
}

func TestSender_CancelIsIdempotent(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})
	s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 131072)})

	first := s.Handle(Cancel{})
	assert.Equal(t, SenderCanceled, s.State())
	assert.Equal(t, []protocol.Message{protocol.CancelSenderTransfer{CancelIDs: protocol.CancelIDs{SenderID: "s-1", RecipientID: "r-1"}}}, sentMessages(first))
	assert.Equal(t, 1000, closeOf(t, first).Code)
	status := s.Status()

	second := s.Handle(Cancel{})
	assert.Empty(t, second)
	assert.Equal(t, SenderCanceled, s.State())
	assert.Equal(t, status, s.Status())
	assert.ErrorIs(t, s.Err(), ErrCanceled)
}

func TestSender_CancelMessagePerState(t *testing.T) {
	s := NewSender(SenderConfig{Meta: testMeta(5)})
	s.Handle(Opened{})
	effects := s.Handle(Cancel{})
	assert.Empty(t, sentMessages(effects), "nothing to tell before registration")
	assert.Equal(t, SenderCanceled, s.State())

	s = readySender(t, 5)
	effects = s.Handle(Cancel{})
	assert.Equal(t, []protocol.Message{protocol.CancelSenderReady{CancelIDs: protocol.CancelIDs{SenderID: "s-1", RecipientID: "r-1"}}}, sentMessages(effects))
}

func TestSender_CancelDiscardsInFlightRead(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})
	s.Handle(Cancel{})

	effects := s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 131072)})
	assert.Empty(t, effects)
	assert.Equal(t, SenderCanceled, s.State())
}

func TestSender_ReadFailure(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})

	effects := s.Handle(ChunkLoaded{Index: 0, Err: errors.New("disk gone")})
	assert.Equal(t, SenderError, s.State())
	assert.ErrorIs(t, s.Err(), ErrApplication)
	assert.Contains(t, s.Err().Error(), "disk gone")
	assert.Empty(t, sentMessages(effects), "no peer notification for local failures")
	assert.True(t, hasEffect[CloseTransport](effects))
}

func TestSender_ShortChunkIsLocalError(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})

	s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 100)})
	assert.ErrorIs(t, s.Err(), ErrApplication)
}

func TestSender_PeerCancelAndDisconnect(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})
	s.Handle(ChunkLoaded{Index: 0, Data: make([]byte, 131072)})

	effects := s.Handle(Inbound{Msg: protocol.CancelRecipientTransfer{}})
	assert.Equal(t, SenderCanceled, s.State())
	assert.ErrorIs(t, s.Err(), ErrPeerCanceled)
	assert.Empty(t, sentMessages(effects), "peer cancel is not echoed")
	assert.Equal(t, uint64(0), s.Status().UploadedBytes)

	s = readySender(t, 131073)
	s.Handle(Start{})
	effects = s.Handle(Inbound{Msg: protocol.PeerDisconnected{PeerID: "r-1"}})
	assert.Equal(t, SenderError, s.State())
	assert.ErrorIs(t, s.Err(), ErrPeerDisconnected)
	assert.Empty(t, sentMessages(effects))

	s = readySender(t, 131073)
	effects = s.Handle(Inbound{Msg: protocol.PeerDisconnected{PeerID: "someone-else"}})
	assert.Equal(t, SenderReady, s.State())
	assert.True(t, hasEffect[Diagnostic](effects))

	s = readySender(t, 131073)
	s.Handle(Inbound{Msg: protocol.UserClose{UserID: "u", Role: protocol.RoleReceiver, Reason: "tab closed"}})
	assert.ErrorIs(t, s.Err(), ErrPeerDisconnected)
	assert.Contains(t, s.Status().Message, "tab closed")
}

func TestSender_TransportClose(t *testing.T) {
	tests := []struct {
		code      int
		reason    string
		wantState SenderState
		wantErr   error
		wantMsg   string
	}{
		{1006, "", SenderError, ErrTransportLoss, "lost connection to the server"},
		{1000, "", SenderCanceled, ErrCanceled, "connection closed by the server"},
		{4001, "session expired", SenderError, ErrTransportLoss, "disconnected (code 4001): session expired"},
	}
	for _, tt := range tests {
		s := readySender(t, 10)
		assert.Empty(t, s.Handle(Closed{Code: tt.code, Reason: tt.reason}))
		assert.Equal(t, tt.wantState, s.State())
		assert.ErrorIs(t, s.Err(), tt.wantErr)
		assert.Contains(t, s.Status().Message, tt.wantMsg)
	}

	// Closing after completion is the normal end of a session.
	s := readySender(t, 0)
	s.Handle(Start{})
	s.Handle(Inbound{Msg: protocol.FileTransferAck{Status: protocol.AckCompleted}})
	s.Handle(Closed{Code: 1000})
	assert.Equal(t, SenderCompleted, s.State())
	assert.NoError(t, s.Err())
}

func TestSender_RelayFailure(t *testing.T) {
	s := NewSender(SenderConfig{Meta: testMeta(10)})
	s.Handle(Opened{})
	effects := s.Handle(Inbound{Msg: protocol.Failure{Type: protocol.TypeRegister, Message: "server full"}})
	assert.Equal(t, SenderError, s.State())
	assert.ErrorIs(t, s.Err(), ErrRelayRejected)
	assert.Contains(t, s.Err().Error(), "server full")
	assert.True(t, hasEffect[CloseTransport](effects))
}

func TestSender_Depart(t *testing.T) {
	s := readySender(t, 10)
	effects := s.Handle(Depart{Reason: "interrupted"})
	assert.Equal(t, []protocol.Message{protocol.UserClose{UserID: "user-s", Role: protocol.RoleSender, Reason: "interrupted"}}, sentMessages(effects))
	assert.Equal(t, 1001, closeOf(t, effects).Code)
	assert.Equal(t, SenderCanceled, s.State())
	assert.Empty(t, s.Handle(Depart{}))
}

func TestSender_IgnoresOutOfPlaceInput(t *testing.T) {
	s := NewSender(SenderConfig{Meta: testMeta(10)})
	s.Handle(Opened{})

	effects := s.Handle(Start{})
	assert.True(t, hasEffect[Diagnostic](effects))
	assert.Equal(t, SenderRegistering, s.State())

	effects = s.Handle(Inbound{Msg: protocol.RecipientReady{RecipientID: "r-1"}})
	assert.True(t, hasEffect[Diagnostic](effects))
	assert.Equal(t, SenderRegistering, s.State())

	effects = s.Handle(Inbound{Msg: protocol.Unknown{Type: "weird"}})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].(Diagnostic).Message, "weird")

	effects = s.Handle(Binary{Data: []byte{1}})
	assert.True(t, hasEffect[Diagnostic](effects))
	assert.Equal(t, SenderRegistering, s.State())
}

func TestSender_StatesOnlyMoveForward(t *testing.T) {
	s := readySender(t, 131073)
	s.Handle(Start{})
	// A second pairing request mid-transfer must not reset anything.
	effects := s.Handle(Inbound{Msg: protocol.RecipientReady{RecipientID: "r-2"}})
	assert.True(t, hasEffect[Diagnostic](effects))
	assert.Equal(t, SenderTransferring, s.State())
	assert.Equal(t, "r-1", s.PeerID())

	effects = s.Handle(Inbound{Msg: protocol.Register{Success: true, ConnectionID: "s-2"}})
	assert.True(t, hasEffect[Diagnostic](effects))
	assert.Equal(t, "s-1", s.LocalID())
}
