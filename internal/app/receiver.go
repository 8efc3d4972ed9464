package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/sheerbytes/relaydrop/internal/clienthttp"
	"github.com/sheerbytes/relaydrop/internal/progress"
	"github.com/sheerbytes/relaydrop/internal/transfer"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

const metaRetries = 4

// ReceiveConfig configures one receive session.
type ReceiveConfig struct {
	ServerURL string
	Link      string // share link or bare sender id
	OutDir    string
	Out       io.Writer

	// NoProgress suppresses intermediate progress lines.
	NoProgress bool
}

// RunReceiver pairs with the sender named by the link, receives its file into
// OutDir and returns the path written.
func RunReceiver(ctx context.Context, logger *slog.Logger, cfg ReceiveConfig) (string, error) {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	senderID, err := transfer.ParseShareLink(cfg.Link)
	if err != nil {
		return "", fmt.Errorf("parse link: %w", err)
	}

	wsURL, err := buildWebSocketURL(cfg.ServerURL, protocol.RoleReceiver)
	if err != nil {
		return "", fmt.Errorf("build relay URL: %w", err)
	}
	logger = logger.With("role", protocol.RoleReceiver, "sender_id", senderID)

	// Metadata is looked up before connecting. An unknown sender ends here;
	// any other failure is retried from inside the session.
	var known *protocol.FileMeta
	meta, err := fetchFileMeta(ctx, logger, cfg.ServerURL, senderID)
	switch {
	case err == nil:
		known = &meta
		fmt.Fprintf(cfg.Out, "incoming %s (%s, %s)\n", meta.Name, humanSize(meta.Size), meta.MimeType)
	case errors.Is(err, clienthttp.ErrNotFound), ctx.Err() != nil:
		return "", fmt.Errorf("fetch file metadata: %w", err)
	default:
		logger.Warn("file metadata lookup failed, retrying after pairing", "error", err)
	}

	// The file is written to disk as it arrives and only renamed into
	// place once complete.
	spool, err := newSpoolFile(cfg.OutDir)
	if err != nil {
		return "", err
	}
	defer spool.Discard()

	conn, err := dialRelay(ctx, wsURL, logger)
	if err != nil {
		return "", err
	}

	machine := transfer.NewReceiver(transfer.ReceiverConfig{SenderID: senderID, Meta: known, UserID: newUserID(), Sink: spool})
	reporter := newProgressReporter(cfg.Out, "receiving")
	var saved string
	session := NewSession(logger, SessionConfig{
		Machine:   machine,
		Transport: conn,
		Fetch: func(ctx context.Context, id string) (protocol.FileMeta, error) {
			meta, err := fetchFileMeta(ctx, logger, cfg.ServerURL, id)
			if err == nil {
				fmt.Fprintf(cfg.Out, "incoming %s (%s, %s)\n", meta.Name, humanSize(meta.Size), meta.MimeType)
			}
			return meta, err
		},
		Hooks: Hooks{
			OnStatus: reporter.hook(cfg.NoProgress),
			OnDeliver: func(d transfer.Deliver) error {
				path, err := spool.Commit(d.Meta.Name)
				if err != nil {
					return err
				}
				saved = path
				return nil
			},
		},
	})

	err = session.Run(ctx)
	reporter.Finish(machine.Status())
	logger.Info("session ended", "local_id", machine.LocalID(), "state", machine.State().String())
	if err != nil {
		return "", err
	}
	if meta, ok := machine.Meta(); ok {
		fmt.Fprintf(cfg.Out, "saved %s (%s)\n", saved, humanSize(meta.Size))
	} else {
		fmt.Fprintf(cfg.Out, "saved %s\n", saved)
	}
	return saved, nil
}

// fetchFileMeta retries while the relay has not yet seen the sender's
// announcement. Other failures are returned at once.
func fetchFileMeta(ctx context.Context, logger *slog.Logger, serverURL, senderID string) (protocol.FileMeta, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = time.Second

	var (
		meta     protocol.FileMeta
		finalErr error
	)
	op := func() error {
		m, err := clienthttp.FetchFileMeta(ctx, serverURL, senderID)
		switch {
		case err == nil:
			meta, finalErr = m, nil
			return nil
		case errors.Is(err, clienthttp.ErrNotFound):
			finalErr = err
			return err
		default:
			finalErr = err
			return nil
		}
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("file metadata not available yet", "error", err, "wait", wait)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, metaRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil && finalErr == nil {
		finalErr = err
	}
	return meta, finalErr
}

func humanSize(n uint64) string {
	return progress.FormatBytes(n)
}
