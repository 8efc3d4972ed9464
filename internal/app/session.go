package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sheerbytes/relaydrop/internal/transfer"
	"github.com/sheerbytes/relaydrop/internal/wsclient"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

const eventBuffer = 64

// Machine is a sender or receiver state machine.
type Machine interface {
	Handle(transfer.Event) []transfer.Effect
	Terminal() bool
	Status() transfer.Status
	Err() error
}

// Transport is the relay connection a session drives. *wsclient.Conn implements it.
type Transport interface {
	ReadLoop(ctx context.Context, onFrame func(wsclient.Frame)) (int, string)
	SendControl(protocol.Message) error
	SendBinary([]byte) error
	Close(code int, reason string) error
}

// ChunkSource reads chunks of the file being sent.
type ChunkSource interface {
	Read(index uint32) ([]byte, error)
}

// MetaFetcher looks up a sender's file metadata over the side channel.
type MetaFetcher func(ctx context.Context, senderID string) (protocol.FileMeta, error)

// Hooks receive session output. They are optional and run on the session goroutine.
type Hooks struct {
	OnLink    func(transfer.PublishLink)
	OnStatus  func(transfer.Status)
	OnDeliver func(transfer.Deliver) error
}

// SessionConfig wires a machine to its transport and collaborators.
type SessionConfig struct {
	Machine   Machine
	Transport Transport
	Source    ChunkSource // sender only
	Fetch     MetaFetcher // receiver only
	Hooks     Hooks
	// AutoStart starts a sender as soon as it is paired.
	AutoStart bool
}

// Session is the actor that owns one machine. Every input, whether from the
// relay, a chunk read, a metadata fetch or the user, becomes an event on one
// channel and is handled to completion before the next.
type Session struct {
	logger *slog.Logger
	cfg    SessionConfig
	events chan transfer.Event
	done   chan struct{}
	group  errgroup.Group

	started     bool
	closeSet    bool
	closeCode   int
	closeReason string
	deliverErr  error
}

// NewSession returns a session ready to Run.
func NewSession(logger *slog.Logger, cfg SessionConfig) *Session {
	return &Session{
		logger: logger,
		cfg:    cfg,
		events: make(chan transfer.Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Start asks a paired sender to begin streaming.
func (s *Session) Start() { s.post(transfer.Start{}) }

// Cancel cancels the transfer and tells the peer.
func (s *Session) Cancel() { s.post(transfer.Cancel{}) }

// Depart leaves without finishing, announcing userClose to the peer.
func (s *Session) Depart(reason string) { s.post(transfer.Depart{Reason: reason}) }

func (s *Session) post(ev transfer.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run drives the session until the machine reaches a terminal state, then
// closes the transport. Canceling ctx departs from the session. The returned
// error is the machine's terminal error, or a failure to store a delivered file.
func (s *Session) Run(ctx context.Context) error {
	// The read loop outlives ctx so a departure can still be sent.
	readCtx, stopRead := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRead()

	s.group.Go(func() error {
		code, reason := s.cfg.Transport.ReadLoop(readCtx, s.onFrame)
		s.post(transfer.Closed{Code: code, Reason: reason})
		return nil
	})

	// Async work is abandoned once the machine is terminal.
	workCtx, stopWork := context.WithCancel(ctx)
	defer stopWork()

	s.apply(workCtx, transfer.Opened{})
	interrupted := ctx.Done()
	for !s.cfg.Machine.Terminal() {
		select {
		case ev := <-s.events:
			s.apply(workCtx, ev)
		case <-interrupted:
			interrupted = nil
			s.apply(workCtx, transfer.Depart{Reason: "interrupted"})
		}
	}
	close(s.done)
	stopWork()

	code, reason := s.closeCode, s.closeReason
	if !s.closeSet {
		code, reason = protocol.CloseNormal, "session ended"
	}
	if err := s.cfg.Transport.Close(code, reason); err != nil {
		s.logger.Debug("close transport", "error", err)
	}
	stopRead()
	_ = s.group.Wait()

	if s.deliverErr != nil {
		return s.deliverErr
	}
	return s.cfg.Machine.Err()
}

func (s *Session) onFrame(f wsclient.Frame) {
	ev, err := route(f)
	if err != nil {
		s.logger.Warn("dropping inbound frame", "error", err)
		return
	}
	s.post(ev)
}

func (s *Session) apply(ctx context.Context, ev transfer.Event) {
	for _, effect := range s.cfg.Machine.Handle(ev) {
		s.perform(ctx, effect)
	}
	if s.cfg.Hooks.OnStatus != nil {
		s.cfg.Hooks.OnStatus(s.cfg.Machine.Status())
	}
	if s.cfg.AutoStart && !s.started && s.paired() {
		s.started = true
		s.apply(ctx, transfer.Start{})
	}
}

func (s *Session) paired() bool {
	snd, ok := s.cfg.Machine.(*transfer.Sender)
	return ok && snd.State() == transfer.SenderReady
}

func (s *Session) perform(ctx context.Context, effect transfer.Effect) {
	switch e := effect.(type) {
	case transfer.SendControl:
		s.logger.Debug("send", "type", e.Msg.MessageType())
		if err := s.cfg.Transport.SendControl(e.Msg); err != nil {
			s.logger.Warn("send control message", "type", e.Msg.MessageType(), "error", err)
		}

	case transfer.SendBinary:
		if err := s.cfg.Transport.SendBinary(e.Data); err != nil {
			s.logger.Warn("send chunk", "bytes", len(e.Data), "error", err)
		}

	case transfer.ReadChunk:
		src := s.cfg.Source
		s.group.Go(func() error {
			if src == nil {
				s.post(transfer.ChunkLoaded{Index: e.Index, Err: errors.New("no file to read from")})
				return nil
			}
			data, err := src.Read(e.Index)
			s.post(transfer.ChunkLoaded{Index: e.Index, Data: data, Err: err})
			return nil
		})

	case transfer.FetchMetadata:
		fetch := s.cfg.Fetch
		s.group.Go(func() error {
			if fetch == nil {
				s.post(transfer.MetadataLoaded{Err: errors.New("no metadata source")})
				return nil
			}
			meta, err := fetch(ctx, e.SenderID)
			s.post(transfer.MetadataLoaded{Meta: meta, Err: err})
			return nil
		})

	case transfer.CloseTransport:
		// The machine is terminal whenever it asks for a close; Run closes
		// after the loop so queued frames go out first.
		if !s.closeSet {
			s.closeSet = true
			s.closeCode, s.closeReason = e.Code, e.Reason
		}

	case transfer.PublishLink:
		s.logger.Info("registered with relay", "connection_id", e.ConnectionID)
		if s.cfg.Hooks.OnLink != nil {
			s.cfg.Hooks.OnLink(e)
		}

	case transfer.Deliver:
		s.logger.Info("file received", "name", e.Meta.Name, "bytes", e.Meta.Size)
		if s.cfg.Hooks.OnDeliver != nil {
			if err := s.cfg.Hooks.OnDeliver(e); err != nil {
				s.deliverErr = fmt.Errorf("store %s: %w", e.Meta.Name, err)
			}
		}

	case transfer.Diagnostic:
		s.logger.Warn("ignored input", "detail", e.Message)
	}
}
