package protocol

// Message is implemented by every entry of the wire catalog.
// The set is closed: Decode only ever returns the types in this file.
type Message interface {
	MessageType() string
}

// Register is sent by the relay once it has assigned the connection an id.
type Register struct {
	Success      bool   `json:"success"`
	ConnectionID string `json:"connectionId"`
}

// FileMeta announces the file a sender is offering. It is also the body of the
// side-channel metadata lookup.
type FileMeta struct {
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	MimeType string `json:"mimeType"`
}

// RecipientReady is sent by a receiver naming the sender it wants, and
// forwarded by the relay to that sender naming the receiver.
type RecipientReady struct {
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

// SenderReady acknowledges a pairing back to the relay.
type SenderReady struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

// FileChunk describes the binary frame that immediately follows it.
// UploadedBytes includes ChunkByteLength.
type FileChunk struct {
	ChunkIndex      uint32 `json:"chunkIndex"`
	TotalChunks     uint32 `json:"totalChunks"`
	TotalSize       uint64 `json:"totalSize"`
	ChunkByteLength uint32 `json:"chunkByteLength"`
	UploadedBytes   uint64 `json:"uploadedBytes"`
	Progress        int    `json:"progress"`
}

// FileEnd tells the receiver that byte streaming is over. LastChunkIndex is
// the number of chunks that were sent.
type FileEnd struct {
	LastChunkIndex uint32 `json:"lastChunkIndex"`
	TotalChunks    uint32 `json:"totalChunks"`
	TotalSize      uint64 `json:"totalSize"`
	UploadedBytes  uint64 `json:"uploadedBytes"`
}

// FileTransferAck answers exactly one chunk, or the end of the file.
type FileTransferAck struct {
	Status        string `json:"status"`
	ChunkIndex    uint32 `json:"chunkIndex"`
	UploadedBytes uint64 `json:"uploadedBytes"`
	Progress      int    `json:"progress"`
}

// CancelIDs names both ends of the pairing being torn down.
type CancelIDs struct {
	SenderID    string `json:"senderId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

type CancelSenderReady struct{ CancelIDs }

type CancelRecipientReady struct{ CancelIDs }

type CancelSenderTransfer struct{ CancelIDs }

type CancelRecipientTransfer struct{ CancelIDs }

// UserClose is a best-effort notice that the local user is leaving.
type UserClose struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Reason string `json:"reason"`
}

// PeerDisconnected is sent by the relay when the other end went away.
type PeerDisconnected struct {
	PeerID string `json:"peerId"`
}

// Failure is any envelope carrying success:false. Type is whatever
// discriminant the relay put on it and may be empty.
type Failure struct {
	Type    string
	Message string
}

// Unknown is a well-formed envelope whose type is not in the catalog.
type Unknown struct {
	Type string
	Raw  []byte
}

// Malformed is an envelope whose type is in the catalog but whose body does
// not fit it, such as a negative chunk index.
type Malformed struct {
	Type string
	Raw  []byte
	Err  error
}

func (Register) MessageType() string                { return TypeRegister }
func (FileMeta) MessageType() string                { return TypeFileMeta }
func (RecipientReady) MessageType() string          { return TypeRecipientReady }
func (SenderReady) MessageType() string             { return TypeSenderReady }
func (FileChunk) MessageType() string               { return TypeFileChunk }
func (FileEnd) MessageType() string                 { return TypeFileEnd }
func (FileTransferAck) MessageType() string         { return TypeFileTransferAck }
func (CancelSenderReady) MessageType() string       { return TypeCancelSenderReady }
func (CancelRecipientReady) MessageType() string    { return TypeCancelRecipientReady }
func (CancelSenderTransfer) MessageType() string    { return TypeCancelSenderTransfer }
func (CancelRecipientTransfer) MessageType() string { return TypeCancelRecipientTransfer }
func (UserClose) MessageType() string               { return TypeUserClose }
func (PeerDisconnected) MessageType() string        { return TypePeerDisconnected }
func (f Failure) MessageType() string {
	if f.Type == "" {
		return TypeError
	}
	return f.Type
}
func (u Unknown) MessageType() string   { return u.Type }
func (m Malformed) MessageType() string { return m.Type }
