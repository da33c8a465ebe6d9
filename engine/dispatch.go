package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"rstransfer/approval"
	"rstransfer/policy"
	"rstransfer/protocol"
	"rstransfer/transfer"
	"rstransfer/validation"
)

// handleTextFrame routes one decoded control frame to its handler per
// the inbound dispatch table. Malformed frames are logged and dropped
// without tearing down the channel.
func (c *Controller) handleTextFrame(ctx context.Context, payload []byte) {
	typ, err := protocol.EnvelopeType(payload)
	if err != nil {
		c.logger.Debug().Err(err).Msg("dropping malformed control frame")
		return
	}

	switch typ {
	case protocol.TypePong:
		// liveness only
	case protocol.TypeFileTransferResp:
		c.handleFileTransferResponse(payload)
	case protocol.TypeTransferStatus:
		c.handleTransferStatusUpdate(payload)
	case protocol.TypeTransferApproval:
		c.handleTransferApproval(payload)
	case protocol.TypeChunkAck:
		c.handleChunkAck(payload)
	case protocol.TypeProgressResponse:
		c.handleProgressResponse(payload)
	case protocol.TypeError:
		c.handleErrorFrame(payload)
	case protocol.TypeTransferRequest:
		c.handleInboundTransferRequest(ctx, payload)
	default:
		c.logger.Debug().Str("type", typ).Msg("unhandled control frame type")
	}
}

// handleBinaryFrame decodes a chunk frame and forwards it to the
// active download Worker it belongs to, if any.
func (c *Controller) handleBinaryFrame(frame []byte) {
	header, data, err := protocol.DecodeChunkFrame(frame)
	if err != nil {
		c.logger.Debug().Err(err).Msg("dropping malformed chunk frame")
		return
	}

	c.mu.RLock()
	worker, ok := c.workers[header.TransferID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Debug().Str("transfer_id", header.TransferID).Msg("chunk frame for unknown or inactive transfer")
		return
	}
	worker.DeliverChunk(transfer.InboundChunk{Index: header.ChunkIndex, Data: data, Checksum: header.Checksum, IsLast: header.IsLast})
}

// handleFileTransferResponse answers our own outbound
// file_transfer_request. "approved"/"rejected" drive the session's
// transition; any other status (e.g. "pending") is logged only.
func (c *Controller) handleFileTransferResponse(payload []byte) {
	var msg protocol.FileTransferResponse
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed file_transfer_response")
		return
	}
	switch msg.Status {
	case "approved":
		c.approveAndStart(msg.TransferID)
	case "rejected":
		c.rejectTransfer(msg.TransferID, msg.Message)
	default:
		c.logger.Debug().Str("transfer_id", msg.TransferID).Str("status", msg.Status).Msg("file_transfer_response: not yet decided")
	}
}

// handleTransferStatusUpdate is advisory-only per the pinned Open
// Question resolution: it is logged but never drives a transition.
// Only transfer_approval and file_transfer_response do that.
func (c *Controller) handleTransferStatusUpdate(payload []byte) {
	var msg protocol.TransferStatusUpdate
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed transfer_status_update")
		return
	}
	c.logger.Debug().Str("transfer_id", msg.TransferID).Str("status", msg.Status).Msg("advisory status update")
}

// handleTransferApproval applies the peer's approve/deny decision. With
// file_transfer_response (for our own outbound requests) it is one of
// the two inbound frames that decide a Pending session.
func (c *Controller) handleTransferApproval(payload []byte) {
	var msg protocol.TransferApproval
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed transfer_approval")
		return
	}
	if msg.Approved {
		c.approveAndStart(msg.TransferID)
	} else {
		c.rejectTransfer(msg.TransferID, msg.Message)
	}
}

func (c *Controller) handleChunkAck(payload []byte) {
	var msg protocol.ChunkAck
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed chunk_ack")
		return
	}
	c.mu.RLock()
	worker, ok := c.workers[msg.TransferID]
	c.mu.RUnlock()
	if ok {
		worker.DeliverAck(msg.ChunkIndex)
	}
}

// handleProgressResponse applies a server-authoritative progress
// override, superseding whatever the local speed sampler computed.
func (c *Controller) handleProgressResponse(payload []byte) {
	var msg protocol.ProgressResponse
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed progress_response")
		return
	}
	c.mu.RLock()
	session, ok := c.sessions[msg.Progress.TransferID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	session.Progress.SetTotalBytes(msg.Progress.TotalBytes)
	session.Progress.Set(msg.Progress.BytesTransferred)
	c.bus.Emit(EventTransferProgress, ProgressEvent{TransferID: msg.Progress.TransferID, Snapshot: session.Progress.Snapshot()})
}

func (c *Controller) handleErrorFrame(payload []byte) {
	var msg protocol.ErrorFrame
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed error frame")
		return
	}
	c.logger.Warn().Str("error", msg.Error).Str("message", msg.Message).Msg("peer reported error")
}

// handleInboundTransferRequest handles a peer-initiated transfer: runs
// it through the Policy Gate and, on Prompt, the Approval Adapter.
// This is the Policy Gate's sole size/extension authority, reserved
// for inbound requests (outbound requests are validated directly by
// RequestFileUpload/RequestFileDownload).
func (c *Controller) handleInboundTransferRequest(ctx context.Context, payload []byte) {
	var msg protocol.FileTransferRequest
	if err := protocol.DecodeControlFrame(payload, &msg); err != nil {
		c.logger.Debug().Err(err).Msg("malformed transfer_request")
		return
	}

	localPath, err := c.resolveInboundPath(msg)
	if err != nil {
		c.bus.Emit(EventFileValidationFailed, FileValidationFailedEvent{Path: msg.Filename, Reason: err.Error()})
		_ = c.sendFileTransferResponse(msg.ID, "rejected", err.Error())
		return
	}

	direction := transfer.DirectionDownload
	if msg.TransferType == protocol.TransferDownload {
		direction = transfer.DirectionUpload
	}

	req := transfer.Request{
		ID: msg.ID, SessionID: msg.SessionID, Filename: msg.Filename, FileSize: msg.FileSize,
		Checksum: msg.Checksum, Direction: direction, Technician: msg.Technician, LocalPath: localPath,
	}

	c.mu.Lock()
	session := transfer.NewSession(req, c.chunkSize)
	c.sessions[msg.ID] = session
	snap := c.policySnapshotLocked()
	c.mu.Unlock()

	c.audit("transfer_requested", map[string]any{"transfer_id": msg.ID, "direction": string(direction), "filename": msg.Filename})
	c.bus.Emit(EventTransferRequested, TransferEvent{TransferID: msg.ID})

	decision, reason := policy.Evaluate(policy.Request{ID: msg.ID, Filename: msg.Filename, FileSize: msg.FileSize}, snap)
	switch decision {
	case policy.AutoAllow:
		_ = c.sendFileTransferResponse(msg.ID, "approved", "")
		c.approveAndStart(msg.ID)
	case policy.AutoDeny:
		c.audit("security_violation", map[string]any{"transfer_id": msg.ID, "reason": reason})
		c.bus.Emit(EventSecurityWarning, SecurityWarningEvent{TransferID: msg.ID, Filename: msg.Filename, Reason: reason})
		_ = c.sendFileTransferResponse(msg.ID, "rejected", reason)
		c.rejectTransfer(msg.ID, reason)
	case policy.Prompt:
		go c.promptAndDecide(ctx, msg)
	}
}

func (c *Controller) resolveInboundPath(msg protocol.FileTransferRequest) (string, error) {
	c.mu.RLock()
	downloadDir := c.downloadDir
	sharedRoot := c.sharedRoot
	c.mu.RUnlock()

	if msg.TransferType == protocol.TransferDownload {
		if sharedRoot == "" {
			return "", fmt.Errorf("engine: no shared root configured to serve %q", msg.Filename)
		}
		return validation.SafeJoin(sharedRoot, msg.Filename)
	}
	if downloadDir == "" {
		return "", errors.New("engine: no download directory configured")
	}
	return validation.SafeJoin(downloadDir, msg.Filename)
}

func (c *Controller) promptAndDecide(ctx context.Context, msg protocol.FileTransferRequest) {
	dangerous := approval.IsDangerousExtension(filepath.Ext(msg.Filename))
	req := approval.Request{ID: msg.ID, Filename: msg.Filename, FileSize: msg.FileSize, Technician: msg.Technician, Dangerous: dangerous}
	c.bus.Emit(EventTransferApprovalRequested, ApprovalRequestedEvent{
		TransferID: msg.ID, Filename: msg.Filename, FileSize: msg.FileSize, Technician: msg.Technician, Dangerous: dangerous,
	})

	decision, err := c.approvalAdapter.Resolve(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("transfer_id", msg.ID).Msg("approval prompt failed")
		decision = approval.Decision{Approved: false, Message: err.Error()}
	}
	c.bus.Emit(EventTransferApprovalDecision, ApprovalDecisionEvent{TransferID: msg.ID, Approved: decision.Approved, Message: decision.Message})

	if decision.Approved {
		_ = c.sendFileTransferResponse(msg.ID, "approved", "")
		c.approveAndStart(msg.ID)
	} else {
		_ = c.sendFileTransferResponse(msg.ID, "rejected", decision.Message)
		c.rejectTransfer(msg.ID, decision.Message)
	}
}

func (c *Controller) sendFileTransferResponse(transferID, status, message string) error {
	msg := protocol.FileTransferResponse{Type: protocol.TypeFileTransferResp, Timestamp: time.Now(), TransferID: transferID, Status: status, Message: message}
	payload, err := protocol.EncodeControlFrame(msg)
	if err != nil {
		return err
	}
	return c.transport.SendText(payload)
}
