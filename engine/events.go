package engine

import "rstransfer/transfer"

// Event names emitted on a Controller's Bus. These are the engine's
// public, observable surface — a GUI or CLI never touches transfer
// internals directly, only subscribes here.
const (
	EventConnected                 = "connected"
	EventDisconnected              = "disconnected"
	EventConnectionError           = "connectionError"
	EventTransferRequested         = "transferRequested"
	EventTransferApprovalRequested = "transferApprovalRequested"
	EventTransferApprovalDecision  = "transferApprovalDecision"
	EventTransferApproved          = "transferApproved"
	EventTransferRejected          = "transferRejected"
	EventTransferStarted           = "transferStarted"
	EventTransferProgress          = "transferProgress"
	EventChunkSent                 = "chunkSent"
	EventChunkReceived             = "chunkReceived"
	EventTransferCompleted         = "transferCompleted"
	EventTransferFailed            = "transferFailed"
	EventTransferCancelled         = "transferCancelled"
	EventSecurityWarning           = "securityWarning"
	EventFileValidationFailed      = "fileValidationFailed"
)

// ConnectionErrorEvent is the payload of EventConnectionError.
type ConnectionErrorEvent struct {
	Err error
}

// TransferEvent names a transfer with no further payload.
type TransferEvent struct {
	TransferID string
}

// TransferRejectedEvent carries the reason a transfer was rejected.
type TransferRejectedEvent struct {
	TransferID string
	Reason     string
}

// ProgressEvent carries a transfer's latest progress snapshot.
type ProgressEvent struct {
	TransferID string
	Snapshot   transfer.Snapshot
}

// ChunkEvent names the transfer and chunk index a chunk event concerns.
type ChunkEvent struct {
	TransferID string
	Index      int
}

// TransferCompletedEvent carries the local path of a completed transfer.
type TransferCompletedEvent struct {
	TransferID string
	Path       string
}

// TransferFailedEvent carries the error that failed a transfer.
type TransferFailedEvent struct {
	TransferID string
	Err        error
}

// ApprovalRequestedEvent is emitted right before a prompt is shown.
type ApprovalRequestedEvent struct {
	TransferID string
	Filename   string
	FileSize   int64
	Technician string
	Dangerous  bool
}

// ApprovalDecisionEvent is emitted once a prompt (or its timeout)
// resolves.
type ApprovalDecisionEvent struct {
	TransferID string
	Approved   bool
	Message    string
}

// SecurityWarningEvent is emitted whenever the Policy Gate auto-denies an
// inbound request (a remembered deny, a disallowed extension, or a size
// out of range).
type SecurityWarningEvent struct {
	TransferID string
	Filename   string
	Reason     string
}

// FileValidationFailedEvent is emitted when an outbound request fails
// validation before it is sent (local file checks, checksum, or the
// download extension check), or when an inbound request's filename
// cannot be resolved safely under the download or shared root.
type FileValidationFailedEvent struct {
	Path   string
	Reason string
}
