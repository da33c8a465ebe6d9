package engine

import (
	"errors"

	"rstransfer/protocol"
	"rstransfer/transfer"
	"rstransfer/transport"
)

// chunkSenderAdapter bridges a Worker's outbound chunk traffic onto the
// transport, encoding frames with the protocol package. A transport with
// no live connection reports transfer.ErrSuspended rather than its own
// ErrNotConnected, so the Worker suspends instead of failing the session.
type chunkSenderAdapter struct {
	c *Controller
}

func (s *chunkSenderAdapter) SendChunk(chunk transfer.Chunk) error {
	header := protocol.ChunkHeader{
		TransferID: chunk.TransferID,
		ChunkIndex: chunk.ChunkIndex,
		Checksum:   chunk.Checksum,
		IsLast:     chunk.IsLast,
	}
	frame, err := protocol.EncodeChunkFrame(header, chunk.Data)
	if err != nil {
		return err
	}
	if err := s.c.transport.SendBinary(frame); err != nil {
		return suspendedOr(err)
	}
	return nil
}

func (s *chunkSenderAdapter) RequestChunk(transferID string, index int) error {
	idx := index
	if err := s.c.sendControl(transferID, protocol.ActionRequestChunk, &idx); err != nil {
		return suspendedOr(err)
	}
	return nil
}

// suspendedOr translates a disconnected-transport error into
// transfer.ErrSuspended; any other send failure passes through unchanged.
func suspendedOr(err error) error {
	if errors.Is(err, transport.ErrNotConnected) {
		return transfer.ErrSuspended
	}
	return err
}

// workerEventsAdapter bridges a Worker's lifecycle notifications onto
// the Controller's event bus, and retires the worker's pool slot on
// a terminal outcome.
type workerEventsAdapter struct {
	c *Controller
}

func (e *workerEventsAdapter) ChunkSent(transferID string, index int) {
	e.c.bus.Emit(EventChunkSent, ChunkEvent{TransferID: transferID, Index: index})
}

func (e *workerEventsAdapter) ChunkReceived(transferID string, index int) {
	e.c.bus.Emit(EventChunkReceived, ChunkEvent{TransferID: transferID, Index: index})
}

func (e *workerEventsAdapter) Progress(transferID string, snapshot transfer.Snapshot) {
	e.c.bus.Emit(EventTransferProgress, ProgressEvent{TransferID: transferID, Snapshot: snapshot})
}

func (e *workerEventsAdapter) Completed(transferID string) {
	e.c.mu.RLock()
	session := e.c.sessions[transferID]
	e.c.mu.RUnlock()

	path := ""
	if session != nil {
		path = session.Request.LocalPath
	}

	e.c.finishTransfer(transferID)
	e.c.audit("transfer_completed", map[string]any{"transfer_id": transferID, "path": path})
	e.c.bus.Emit(EventTransferCompleted, TransferCompletedEvent{TransferID: transferID, Path: path})
}

func (e *workerEventsAdapter) Failed(transferID string, err error) {
	e.c.finishTransfer(transferID)
	e.c.audit("transfer_failed", map[string]any{"transfer_id": transferID, "error": err.Error()})
	e.c.bus.Emit(EventTransferFailed, TransferFailedEvent{TransferID: transferID, Err: err})
}

func (e *workerEventsAdapter) Cancelled(transferID string) {
	e.c.finishTransfer(transferID)
	e.c.audit("transfer_cancelled", map[string]any{"transfer_id": transferID})
	e.c.bus.Emit(EventTransferCancelled, TransferEvent{TransferID: transferID})
}
