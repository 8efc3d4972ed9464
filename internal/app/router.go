package app

import (
	"fmt"

	"github.com/sheerbytes/relaydrop/internal/transfer"
	"github.com/sheerbytes/relaydrop/internal/wsclient"
	"github.com/sheerbytes/relaydrop/pkg/protocol"
)

// route turns a transport frame into a state machine event.
func route(f wsclient.Frame) (transfer.Event, error) {
	if f.Binary {
		return transfer.Binary{Data: f.Data}, nil
	}
	msg, err := protocol.Decode(f.Data)
	if err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}
	return transfer.Inbound{Msg: msg}, nil
}
