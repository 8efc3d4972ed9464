package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingType is returned for envelopes without a discriminant.
var ErrMissingType = errors.New("type is required")

type header struct {
	Type    string `json:"type"`
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

type failureWire struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Decode classifies a control frame by its type and success flag and decodes it
// into the matching catalog entry. Envelopes with success:false always decode to
// Failure regardless of their type; types outside the catalog decode to Unknown
// and catalog types with an unusable body decode to Malformed. An error means
// the frame is not an envelope at all.
func Decode(data []byte) (Message, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if h.Success != nil && !*h.Success {
		return Failure{Type: h.Type, Message: h.Message}, nil
	}
	if h.Type == "" {
		return nil, ErrMissingType
	}

	switch h.Type {
	case TypeRegister:
		return decodeAs[Register](data)
	case TypeFileMeta:
		return decodeAs[FileMeta](data)
	case TypeRecipientReady:
		return decodeAs[RecipientReady](data)
	case TypeSenderReady:
		return decodeAs[SenderReady](data)
	case TypeFileChunk:
		return decodeAs[FileChunk](data)
	case TypeFileEnd:
		return decodeAs[FileEnd](data)
	case TypeFileTransferAck:
		return decodeAs[FileTransferAck](data)
	case TypeCancelSenderReady:
		return decodeAs[CancelSenderReady](data)
	case TypeCancelRecipientReady:
		return decodeAs[CancelRecipientReady](data)
	case TypeCancelSenderTransfer:
		return decodeAs[CancelSenderTransfer](data)
	case TypeCancelRecipientTransfer:
		return decodeAs[CancelRecipientTransfer](data)
	case TypeUserClose:
		return decodeAs[UserClose](data)
	case TypePeerDisconnected:
		return decodeAs[PeerDisconnected](data)
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Type: h.Type, Raw: raw}, nil
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		raw := make([]byte, len(data))
		copy(raw, data)
		return Malformed{
			Type: out.MessageType(),
			Raw:  raw,
			Err:  fmt.Errorf("unmarshal %s: %w", out.MessageType(), err),
		}, nil
	}
	return out, nil
}

// Encode marshals a catalog entry with its type discriminant.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case nil:
		return nil, errors.New("nil message")
	case Failure:
		return json.Marshal(failureWire{Type: v.MessageType(), Message: v.Message})
	case Unknown:
		return nil, fmt.Errorf("cannot encode unknown message type %q", v.Type)
	case Malformed:
		return nil, fmt.Errorf("cannot encode malformed %s message", v.Type)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.MessageType(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.MessageType(), err)
	}
	typ, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}
