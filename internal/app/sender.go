package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sheerbytes/relaydrop/internal/chunk"
	"github.com/sheerbytes/relaydrop/internal/transfer"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

// SendConfig configures one send session.
type SendConfig struct {
	ServerURL string
	ShareURL  string    // base of the printed share link
	Path      string    // file to send
	Out       io.Writer // link and progress output

	// NoProgress suppresses intermediate progress lines.
	NoProgress bool
	// OnLink, if set, is called with the share link once the relay registers us.
	OnLink func(transfer.PublishLink)
}

// RunSender offers one file through the relay and streams it to the first
// receiver that pairs. It returns when the session ends.
func RunSender(ctx context.Context, logger *slog.Logger, cfg SendConfig) error {
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", cfg.Path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", cfg.Path)
	}
	size := uint64(info.Size())
	seg, err := chunk.NewSegmenter(f, size)
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.Path, err)
	}

	name := filepath.Base(cfg.Path)
	meta := protocol.FileMeta{Name: name, Size: size, MimeType: detectMimeType(name)}

	wsURL, err := buildWebSocketURL(cfg.ServerURL, protocol.RoleSender)
	if err != nil {
		return fmt.Errorf("build relay URL: %w", err)
	}
	logger = logger.With("role", protocol.RoleSender, "file", name)
	conn, err := dialRelay(ctx, wsURL, logger)
	if err != nil {
		return err
	}

	machine := transfer.NewSender(transfer.SenderConfig{
		Meta:      meta,
		ShareBase: cfg.ShareURL,
		UserID:    newUserID(),
	})
	reporter := newProgressReporter(cfg.Out, "sending")
	session := NewSession(logger, SessionConfig{
		Machine:   machine,
		Transport: conn,
		Source:    seg,
		AutoStart: true,
		Hooks: Hooks{
			OnLink: func(l transfer.PublishLink) {
				fmt.Fprintf(cfg.Out, "offering %s (%s)\n", name, humanSize(size))
				fmt.Fprintf(cfg.Out, "share this link: %s\n", l.URL)
				if cfg.OnLink != nil {
					cfg.OnLink(l)
				}
			},
			OnStatus: reporter.hook(cfg.NoProgress),
		},
	})

	err = session.Run(ctx)
	reporter.Finish(machine.Status())
	logger.Info("session ended", "local_id", machine.LocalID(), "peer_id", machine.PeerID(), "state", machine.State().String())
	if err != nil {
		return err
	}
	fmt.Fprintf(cfg.Out, "sent %s\n", name)
	return nil
}
