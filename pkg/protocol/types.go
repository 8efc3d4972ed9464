package protocol

// Message type constants, the value of the "type" discriminant on the wire.
const (
	TypeRegister                = "register"
	TypeFileMeta                = "fileMeta"
	TypeRecipientReady          = "recipientReady"
	TypeSenderReady             = "senderReady"
	TypeFileChunk               = "fileChunk"
	TypeFileEnd                 = "fileEnd"
	TypeFileTransferAck         = "fileTransferAck"
	TypeCancelSenderReady       = "cancelSenderReady"
	TypeCancelRecipientReady    = "cancelRecipientReady"
	TypeCancelSenderTransfer    = "cancelSenderTransfer"
	TypeCancelRecipientTransfer = "cancelRecipientTransfer"
	TypeUserClose               = "userClose"
	TypePeerDisconnected        = "peerDisconnected"

	// TypeError is used for failure envelopes that carry no type of their own.
	TypeError = "error"
)

// Ack statuses carried by fileTransferAck.
const (
	AckAcknowledged = "acknowledged"
	AckCompleted    = "completed"
	AckError        = "error"
)

// Roles as reported in userClose and on the relay URL.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// ChunkSize is the fixed payload size of every chunk but the last.
const ChunkSize = 128 * 1024

// WebSocket close codes the clients send and interpret.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006 // never sent; reported when the connection drops without a close frame
	CloseInternal  = 1011
)
