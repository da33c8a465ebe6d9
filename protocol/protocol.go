// Package protocol implements the wire codec for the remote-support file
// transfer control channel: JSON control frames and length-prefixed binary
// chunk frames.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Control frame types recognized on the wire.
const (
	TypeSessionRegister     = "session_register"
	TypePing                = "ping"
	TypePong                = "pong"
	TypeFileTransferRequest = "file_transfer_request"
	TypeFileTransferResp    = "file_transfer_response"
	TypeTransferStatus      = "transfer_status_update"
	TypeTransferApproval    = "transfer_approval"
	TypeTransferControl     = "transfer_control"
	TypeChunkAck            = "chunk_ack"
	TypeProgressResponse    = "progress_response"
	TypeError               = "error"
	TypeTransferRequest     = "transfer_request"
)

// TransferType identifies the direction of a transfer request.
type TransferType string

const (
	TransferUpload   TransferType = "upload"
	TransferDownload TransferType = "download"
)

// ControlAction names a transfer_control action.
type ControlAction string

const (
	ActionPause        ControlAction = "pause"
	ActionResume       ControlAction = "resume"
	ActionCancel       ControlAction = "cancel"
	ActionRequestChunk ControlAction = "request_chunk"
)

// ErrMalformedFrame is returned for any frame that fails to decode per
// spec.md §4.1: a binary frame shorter than 4 bytes, a header length
// exceeding the remaining frame length, an unparsable header document, or
// a control frame missing "type". Malformed frames are recoverable — the
// caller logs and discards them without closing the channel.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Envelope carries just enough of a control frame to route it.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionRegister registers this client against a remote-support session.
type SessionRegister struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
}

// Ping is a heartbeat frame sent every 30s while connected.
type Ping struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers a Ping; receipt is a no-op liveness confirmation.
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// FileTransferRequest starts an upload or download. The envelope
// discriminator lives in Type ("file_transfer_request" or, for the
// inbound operator-initiated variant, "transfer_request"); the transfer
// direction is carried separately as TransferType to avoid colliding with
// the envelope field.
type FileTransferRequest struct {
	Type         string       `json:"type"`
	Timestamp    time.Time    `json:"timestamp"`
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	Filename     string       `json:"filename"`
	FileSize     int64        `json:"file_size"`
	Checksum     string       `json:"checksum,omitempty"`
	TransferType TransferType `json:"transfer_type"`
	Technician   string       `json:"technician"`
}

// FileTransferResponse answers a FileTransferRequest from the peer.
type FileTransferResponse struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TransferID string    `json:"transfer_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
}

// TransferStatusUpdate reports a status change during the approval phase.
type TransferStatusUpdate struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TransferID string    `json:"transfer_id"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
}

// TransferApproval is the authoritative approve/deny decision frame.
type TransferApproval struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TransferID string    `json:"transfer_id"`
	Approved   bool      `json:"approved"`
	Message    string    `json:"message,omitempty"`
}

// TransferControl carries pause/resume/cancel/request_chunk actions.
type TransferControl struct {
	Type       string        `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	TransferID string        `json:"transfer_id"`
	Action     ControlAction `json:"action"`
	Index      *int          `json:"index,omitempty"`
}

// ChunkAck acknowledges receipt of one chunk.
type ChunkAck struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TransferID string    `json:"transfer_id"`
	ChunkIndex int       `json:"chunk_index"`
}

// ProgressPayload is the inner payload of a ProgressResponse frame.
type ProgressPayload struct {
	TransferID       string  `json:"transfer_id"`
	BytesTransferred int64   `json:"bytes_transferred"`
	TotalBytes       int64   `json:"total_bytes"`
	Percentage       float64 `json:"percentage"`
	Speed            float64 `json:"speed"`
	RemainingTime    float64 `json:"remaining_time"`
}

// ProgressResponse is a server-authoritative progress override.
type ProgressResponse struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Progress  ProgressPayload `json:"progress"`
}

// ErrorFrame reports a protocol-level error.
type ErrorFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
}

// ChunkHeader is the structured document prefixed to every binary chunk
// frame's payload.
type ChunkHeader struct {
	TransferID string `json:"transfer_id"`
	ChunkIndex int    `json:"chunk_index"`
	Checksum   string `json:"checksum"`
	IsLast     bool   `json:"is_last"`
}

// EnvelopeType extracts the "type" discriminator from a control frame
// payload without decoding the full document. Returns ErrMalformedFrame
// if the type field is absent or the document fails to parse.
func EnvelopeType(payload []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("%w: decode envelope: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type field", ErrMalformedFrame)
	}
	return env.Type, nil
}

// EncodeControlFrame marshals a control frame message to JSON.
func EncodeControlFrame(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode control frame: %w", err)
	}
	return payload, nil
}

// DecodeControlFrame unmarshals a control frame payload into dst,
// returning ErrMalformedFrame if the document is unparsable or lacks a
// type field.
func DecodeControlFrame(payload []byte, dst any) error {
	if _, err := EnvelopeType(payload); err != nil {
		return err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
