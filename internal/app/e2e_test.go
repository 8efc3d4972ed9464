package app

import (
	"context"
	"crypto/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/relaydrop/internal/clienthttp"
	"github.com/sheerbytes/relaydrop/internal/relaytest"
	"github.com/sheerbytes/relaydrop/internal/transfer"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

func startRelay(t *testing.T) (*relaytest.Server, string) {
	t.Helper()
	relay := relaytest.New(testLogger())
	srv := httptest.NewServer(relay.Handler())
	t.Cleanup(srv.Close)
	return relay, srv.URL
}

func writeTestFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

type senderRun struct {
	links <-chan string
	errc  <-chan error
}

func startSender(ctx context.Context, serverURL, shareURL, path string) senderRun {
	links := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- RunSender(ctx, testLogger(), SendConfig{
			ServerURL: serverURL,
			ShareURL:  shareURL,
			Path:      path,
			OnLink:    func(l transfer.PublishLink) { links <- l.URL },
		})
	}()
	return senderRun{links: links, errc: errc}
}

func (r senderRun) link(t *testing.T) string {
	t.Helper()
	select {
	case link := <-r.links:
		return link
	case err := <-r.errc:
		t.Fatalf("sender ended before registering: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("sender never published a link")
	}
	return ""
}

type receiveResult struct {
	path string
	err  error
}

func startReceiver(ctx context.Context, serverURL, link, outDir string) <-chan receiveResult {
	resc := make(chan receiveResult, 1)
	go func() {
		path, err := RunReceiver(ctx, testLogger(), ReceiveConfig{ServerURL: serverURL, Link: link, OutDir: outDir})
		resc <- receiveResult{path: path, err: err}
	}()
	return resc
}

func waitReceive(t *testing.T, resc <-chan receiveResult) receiveResult {
	t.Helper()
	select {
	case res := <-resc:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not finish")
		return receiveResult{}
	}
}

func waitSend(t *testing.T, run senderRun) error {
	t.Helper()
	select {
	case err := <-run.errc:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("sender did not finish")
		return nil
	}
}

func TestEndToEnd_TransfersFile(t *testing.T) {
	relay, serverURL := startRelay(t)
	path, data := writeTestFile(t, "a.bin", protocol.ChunkSize+1)
	outDir := t.TempDir()

	snd := startSender(context.Background(), serverURL, "https://drop.example/r", path)
	link := snd.link(t)
	assert.Contains(t, link, "https://drop.example/r?id=")

	res := waitReceive(t, startReceiver(context.Background(), serverURL, link, outDir))
	require.NoError(t, res.err)
	require.NoError(t, waitSend(t, snd))

	assert.Equal(t, filepath.Join(outDir, "a.bin"), res.path)
	got, err := os.ReadFile(res.path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the spool file is renamed, not copied")

	seen := relay.Seen()
	for _, typ := range []string{
		protocol.TypeFileMeta,
		protocol.TypeRecipientReady,
		protocol.TypeSenderReady,
		protocol.TypeFileChunk,
		protocol.TypeFileEnd,
		protocol.TypeFileTransferAck,
	} {
		assert.True(t, hasType(seen, typ), "relay never saw %s", typ)
	}
	assert.False(t, hasType(seen, protocol.TypeUserClose))
}

func TestEndToEnd_EmptyFile(t *testing.T) {
	_, serverURL := startRelay(t)
	path, _ := writeTestFile(t, "empty.txt", 0)
	outDir := t.TempDir()

	snd := startSender(context.Background(), serverURL, "", path)
	link := snd.link(t)

	res := waitReceive(t, startReceiver(context.Background(), serverURL, link, outDir))
	require.NoError(t, res.err)
	require.NoError(t, waitSend(t, snd))

	info, err := os.Stat(res.path)
	require.NoError(t, err)
	assert.Equal(t, "empty.txt", info.Name())
	assert.Zero(t, info.Size())
}

func TestEndToEnd_UnknownSender(t *testing.T) {
	_, serverURL := startRelay(t)

	res := waitReceive(t, startReceiver(context.Background(), serverURL, "no-such-sender", t.TempDir()))
	assert.ErrorIs(t, res.err, clienthttp.ErrNotFound)
	assert.Empty(t, res.path)
}

func TestEndToEnd_SecondReceiverIsRejected(t *testing.T) {
	relay, serverURL := startRelay(t)
	path, _ := writeTestFile(t, "big.bin", 3*protocol.ChunkSize)

	// Hold the first pairing open by never acknowledging a chunk.
	relay.SetFilter(func(from string, msg protocol.Message) (protocol.Message, bool) {
		_, isAck := msg.(protocol.FileTransferAck)
		return msg, !isAck
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snd := startSender(ctx, serverURL, "", path)
	link := snd.link(t)

	first := startReceiver(context.Background(), serverURL, link, t.TempDir())
	require.Eventually(t, func() bool { return hasType(relay.Seen(), protocol.TypeFileTransferAck) }, 5*time.Second, 10*time.Millisecond)

	res := waitReceive(t, startReceiver(context.Background(), serverURL, link, t.TempDir()))
	assert.ErrorIs(t, res.err, transfer.ErrRelayRejected)

	cancel()
	assert.ErrorIs(t, waitSend(t, snd), transfer.ErrCanceled)
	assert.ErrorIs(t, waitReceive(t, first).err, transfer.ErrPeerDisconnected)
}

func TestEndToEnd_BadAckStopsBothSides(t *testing.T) {
	relay, serverURL := startRelay(t)
	path, _ := writeTestFile(t, "b.bin", protocol.ChunkSize+1)
	outDir := t.TempDir()

	relay.SetFilter(func(from string, msg protocol.Message) (protocol.Message, bool) {
		if ack, ok := msg.(protocol.FileTransferAck); ok && ack.Status == protocol.AckAcknowledged {
			ack.UploadedBytes--
			return ack, true
		}
		return msg, true
	})

	snd := startSender(context.Background(), serverURL, "", path)
	link := snd.link(t)
	res := waitReceive(t, startReceiver(context.Background(), serverURL, link, outDir))

	assert.ErrorIs(t, waitSend(t, snd), transfer.ErrProtocolViolation)
	assert.ErrorIs(t, res.err, transfer.ErrPeerCanceled)
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be written for a failed transfer")
}

func TestEndToEnd_SenderDropsMidTransfer(t *testing.T) {
	relay, serverURL := startRelay(t)
	path, _ := writeTestFile(t, "c.bin", 2*protocol.ChunkSize)

	relay.SetFilter(func(from string, msg protocol.Message) (protocol.Message, bool) {
		_, isAck := msg.(protocol.FileTransferAck)
		return msg, !isAck
	})

	snd := startSender(context.Background(), serverURL, "", path)
	link := snd.link(t)
	resc := startReceiver(context.Background(), serverURL, link, t.TempDir())
	require.Eventually(t, func() bool { return hasType(relay.Seen(), protocol.TypeFileTransferAck) }, 5*time.Second, 10*time.Millisecond)

	relay.Drop(protocol.RoleSender)

	err := waitSend(t, snd)
	assert.ErrorIs(t, err, transfer.ErrTransportLoss)
	assert.Contains(t, err.Error(), "lost connection to the server")

	res := waitReceive(t, resc)
	assert.ErrorIs(t, res.err, transfer.ErrPeerDisconnected)
}

func TestEndToEnd_InterruptedSenderAnnouncesDeparture(t *testing.T) {
	relay, serverURL := startRelay(t)
	path, _ := writeTestFile(t, "d.bin", 10)

	ctx, cancel := context.WithCancel(context.Background())
	snd := startSender(ctx, serverURL, "", path)
	snd.link(t)
	cancel()

	assert.ErrorIs(t, waitSend(t, snd), transfer.ErrCanceled)
	require.Eventually(t, func() bool { return hasType(relay.Seen(), protocol.TypeUserClose) }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return relay.Connections() == 0 }, 5*time.Second, 10*time.Millisecond)
}
