package transfer

import "github.com/sheerbytes/relaydrop/pkg/protocol"

// Event is an input to a state machine. Machines consume events one at a time.
type Event interface {
	isEvent()
}

// Opened reports that the transport to the relay is up.
type Opened struct{}

// Inbound carries a decoded control message from the relay.
type Inbound struct {
	Msg protocol.Message
}

// Binary carries one binary frame from the relay.
type Binary struct {
	Data []byte
}

// Closed reports that the transport went away with the given close code.
type Closed struct {
	Code   int
	Reason string
}

// Start is the user asking the sender to begin streaming.
type Start struct{}

// Cancel is a local cancellation.
type Cancel struct{}

// Depart is the local process going away without finishing (interrupt).
type Depart struct {
	Reason string
}

// ChunkLoaded is the result of a ReadChunk effect.
type ChunkLoaded struct {
	Index uint32
	Data  []byte
	Err   error
}

// MetadataLoaded is the result of a FetchMetadata effect.
type MetadataLoaded struct {
	Meta protocol.FileMeta
	Err  error
}

func (Opened) isEvent()         {}
func (Inbound) isEvent()        {}
func (Binary) isEvent()         {}
func (Closed) isEvent()         {}
func (Start) isEvent()          {}
func (Cancel) isEvent()         {}
func (Depart) isEvent()         {}
func (ChunkLoaded) isEvent()    {}
func (MetadataLoaded) isEvent() {}

// Effect is an output of a state machine that the session runner performs.
// Effects are performed in the order they are returned.
type Effect interface {
	isEffect()
}

// SendControl sends a control message to the relay.
type SendControl struct {
	Msg protocol.Message
}

// SendBinary sends one binary frame to the relay.
type SendBinary struct {
	Data []byte
}

// ReadChunk asks for chunk Index of the local file; the answer is a ChunkLoaded event.
type ReadChunk struct {
	Index uint32
}

// FetchMetadata asks for the sender's FileMetadata over the side channel;
// the answer is a MetadataLoaded event.
type FetchMetadata struct {
	SenderID string
}

// CloseTransport closes the connection to the relay.
type CloseTransport struct {
	Code   int
	Reason string
}

// PublishLink hands the shareable link to whoever displays it.
type PublishLink struct {
	ConnectionID string
	URL          string
}

// Deliver hands the reassembled file to whoever stores it. Data is nil when
// the receiver streamed the file to its sink.
type Deliver struct {
	Meta protocol.FileMeta
	Data []byte
}

// Diagnostic reports an input the machine could not use.
type Diagnostic struct {
	Message string
}

func (SendControl) isEffect()    {}
func (SendBinary) isEffect()     {}
func (ReadChunk) isEffect()      {}
func (FetchMetadata) isEffect()  {}
func (CloseTransport) isEffect() {}
func (PublishLink) isEffect()    {}
func (Deliver) isEffect()        {}
func (Diagnostic) isEffect()     {}
