package transfer

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ChunkTimeout bounds how long an upload Worker waits for a chunk_ack
// before retrying. The download loop has no per-chunk timeout.
const ChunkTimeout = 30 * time.Second

// MaxChunkRetries is the number of failures (ack timeouts or checksum
// mismatches) of a single chunk that is fatal to the whole session: a
// chunk is sent, or requested again, at most MaxChunkRetries times.
const MaxChunkRetries = 3

// ErrSuspended is returned by a ChunkSender when the transport has no
// live connection right now. Unlike any other SendChunk/RequestChunk
// error, it does not fail the session: the Worker suspends (as if
// paused) until the Controller calls Resume once reconnected, or Cancel.
var ErrSuspended = errors.New("transfer: sender suspended, awaiting reconnect")

// RetryBackoff returns the exponential backoff delay before retry
// attempt n (1-indexed): 1000*2^(n-1) ms.
func RetryBackoff(attempt int) time.Duration {
	return time.Duration(1000*(1<<uint(attempt-1))) * time.Millisecond
}

// ChunkSender is how a Worker emits outbound frames. Implemented by the
// Engine Controller, which encodes these onto the transport.
type ChunkSender interface {
	SendChunk(Chunk) error
	RequestChunk(transferID string, index int) error
}

// Events receives Worker notifications for re-emission on the Engine
// Controller's event bus.
type Events interface {
	ChunkSent(transferID string, index int)
	ChunkReceived(transferID string, index int)
	Progress(transferID string, snapshot Snapshot)
	Completed(transferID string)
	Failed(transferID string, err error)
	Cancelled(transferID string)
}

// Ack is an inbound chunk_ack forwarded to a Worker by the Controller.
type Ack struct {
	Index int
}

// InboundChunk is an inbound chunk frame forwarded to a Worker.
type InboundChunk struct {
	Index    int
	Data     []byte
	Checksum string
	IsLast   bool
}

// WorkerOptions tunes the per-chunk timeout. Tests shrink it; production
// callers should leave it at the zero value to get ChunkTimeout.
type WorkerOptions struct {
	ChunkTimeout time.Duration
}

// Worker drives one session's chunk stream to completion. It suspends
// only at its designated points: awaiting a chunk ack, awaiting a chunk
// arrival, awaiting a retry timer, awaiting the unpause signal.
type Worker struct {
	session *Session
	sender  ChunkSender
	events  Events
	timeout time.Duration

	ackCh      chan Ack
	chunkCh    chan InboundChunk
	pauseCh    chan struct{}
	resumeCh   chan struct{}
	cancelCh   chan struct{}
	failCh     chan error
	cancelOnce sync.Once
}

// NewWorker constructs a Worker for session. The caller must have
// already transitioned session to InProgress.
func NewWorker(session *Session, sender ChunkSender, events Events, opts WorkerOptions) *Worker {
	timeout := opts.ChunkTimeout
	if timeout <= 0 {
		timeout = ChunkTimeout
	}
	return &Worker{
		session:  session,
		sender:   sender,
		events:   events,
		timeout:  timeout,
		ackCh:    make(chan Ack, 8),
		chunkCh:  make(chan InboundChunk, 8),
		pauseCh:  make(chan struct{}, 1),
		resumeCh: make(chan struct{}, 1),
		cancelCh: make(chan struct{}),
		failCh:   make(chan error, 1),
	}
}

// DeliverAck forwards an inbound chunk_ack to the Worker.
func (w *Worker) DeliverAck(index int) {
	select {
	case w.ackCh <- Ack{Index: index}:
	default:
	}
}

// DeliverChunk forwards an inbound chunk frame to the Worker.
func (w *Worker) DeliverChunk(c InboundChunk) {
	select {
	case w.chunkCh <- c:
	default:
	}
}

// Pause signals the Worker to suspend after its current suspension
// point.
func (w *Worker) Pause() {
	select {
	case w.pauseCh <- struct{}{}:
	default:
	}
}

// Resume signals a paused Worker to continue.
func (w *Worker) Resume() {
	select {
	case w.resumeCh <- struct{}{}:
	default:
	}
}

// Cancel signals the Worker to tear down and transition to Cancelled.
// Safe to call more than once.
func (w *Worker) Cancel() {
	w.cancelOnce.Do(func() { close(w.cancelCh) })
}

// Fail forces the Worker to abandon its session immediately with err,
// e.g. when the Controller gives up on reconnecting a lost transport.
func (w *Worker) Fail(err error) {
	select {
	case w.failCh <- err:
	default:
	}
}

// RunUpload implements the upload algorithm: chunk scheduling with
// retries preceding fresh chunks, per-chunk timeout, exponential
// backoff, and pause/resume/cancel handling.
func (w *Worker) RunUpload() {
	id := w.session.Request.ID

	if err := w.session.OpenFile(); err != nil {
		w.fail(err)
		return
	}
	defer func() { _ = w.session.Close() }()

	total := w.session.TotalChunks
	completed := make(map[int]bool)
	failed := make(map[int]bool)
	retries := make(map[int]int)
	nextIndex := 0

	for {
		if len(completed) >= total {
			w.complete()
			return
		}

		idx, ok := pickNextIndex(failed, &nextIndex, total)
		if !ok {
			// Nothing left to (re)send; every index is in flight from an
			// earlier iteration. This cannot occur in the single-flight
			// scheduler below, but guards against an inconsistent state.
			w.fail(fmt.Errorf("transfer %s: no sendable chunk but transfer incomplete", id))
			return
		}

		data, err := w.session.ReadChunk(idx)
		if err != nil {
			w.fail(err)
			return
		}
		chunk := Chunk{TransferID: id, ChunkIndex: idx, Data: data, Checksum: ChecksumHex(data), IsLast: idx == total-1}
		if cancelled := w.sendChunkWithSuspend(chunk); cancelled {
			return
		}
		w.events.ChunkSent(id, idx)

		if cancelled := w.awaitUploadAck(id, idx, completed, failed, retries); cancelled {
			return
		}
	}
}

// sendChunkWithSuspend sends chunk, suspending (as if paused) and
// retrying the same send across any ErrSuspended period rather than
// failing the session. Any other send error, a forced Fail, or a Cancel
// ends the transfer.
func (w *Worker) sendChunkWithSuspend(chunk Chunk) (cancelled bool) {
	for {
		err := w.sender.SendChunk(chunk)
		if err == nil {
			return false
		}
		if !errors.Is(err, ErrSuspended) {
			w.fail(err)
			return true
		}
		if w.awaitResumeOrCancel() {
			return true
		}
	}
}

// awaitUploadAck waits for idx's ack, a timeout, a pause, or a cancel.
// Acks for other indices (late retries) are honored but do not resolve
// the wait for idx.
func (w *Worker) awaitUploadAck(id string, idx int, completed, failed map[int]bool, retries map[int]int) (cancelled bool) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-w.ackCh:
			completed[ack.Index] = true
			delete(failed, ack.Index)
			delete(retries, ack.Index)
			w.session.UpdateChunkProgress(len(completed))
			w.events.Progress(id, w.session.Progress.Snapshot())
			if ack.Index == idx {
				return false
			}
		case <-timer.C:
			retries[idx]++
			if retries[idx] >= MaxChunkRetries {
				w.fail(fmt.Errorf("chunk %d failed after %d retries", idx, MaxChunkRetries))
				return true
			}
			failed[idx] = true
			return w.waitBackoff(RetryBackoff(retries[idx]))
		case <-w.pauseCh:
			failed[idx] = true
			return w.awaitResumeOrCancel()
		case <-w.cancelCh:
			w.cancelled()
			return true
		case err := <-w.failCh:
			w.fail(err)
			return true
		}
	}
}

// pickNextIndex selects the smallest failed index (retry) or the next
// fresh index in increasing order.
func pickNextIndex(failed map[int]bool, nextIndex *int, total int) (int, bool) {
	if len(failed) > 0 {
		min := -1
		for idx := range failed {
			if min == -1 || idx < min {
				min = idx
			}
		}
		delete(failed, min)
		return min, true
	}
	if *nextIndex >= total {
		return 0, false
	}
	idx := *nextIndex
	*nextIndex++
	return idx, true
}

// RunDownload implements the download algorithm: request (or accept
// pushed) chunks, verify each payload's hash, write it, and verify the
// whole-file checksum once all chunks have arrived.
func (w *Worker) RunDownload() {
	id := w.session.Request.ID

	if err := w.session.OpenFile(); err != nil {
		w.fail(err)
		return
	}
	defer func() { _ = w.session.Close() }()

	completed := make(map[int]bool)
	retries := make(map[int]int)
	total := w.session.TotalChunks

	if w.requestChunkWithSuspend(id, 0) {
		return
	}

	for {
		select {
		case inbound := <-w.chunkCh:
			if !strings.EqualFold(ChecksumHex(inbound.Data), inbound.Checksum) {
				retries[inbound.Index]++
				if retries[inbound.Index] >= MaxChunkRetries {
					w.fail(fmt.Errorf("chunk %d failed after %d retries", inbound.Index, MaxChunkRetries))
					return
				}
				if w.requestChunkWithSuspend(id, inbound.Index) {
					return
				}
				if w.waitBackoff(RetryBackoff(retries[inbound.Index])) {
					return
				}
				continue
			}

			if err := w.session.WriteChunk(inbound.Index, inbound.Data); err != nil {
				w.fail(err)
				return
			}
			completed[inbound.Index] = true
			w.events.ChunkReceived(id, inbound.Index)

			if inbound.IsLast {
				w.session.SetTotalChunks(inbound.Index + 1)
				total = w.session.TotalChunks
			}
			w.session.UpdateChunkProgress(len(completed))
			w.events.Progress(id, w.session.Progress.Snapshot())

			if total > 0 && len(completed) >= total {
				if w.session.Request.Checksum != "" {
					if err := w.session.VerifyChecksum(w.session.Request.Checksum); err != nil {
						w.fail(err)
						return
					}
				}
				w.complete()
				return
			}
		case <-w.pauseCh:
			if w.awaitResumeOrCancel() {
				return
			}
		case <-w.cancelCh:
			w.cancelled()
			return
		case err := <-w.failCh:
			w.fail(err)
			return
		}
	}
}

// requestChunkWithSuspend issues a request_chunk for index, suspending
// (as if paused) and retrying across any ErrSuspended period rather than
// failing the session. Any other error is logged into the session as
// fatal; a forced Fail or Cancel also report cancelled.
func (w *Worker) requestChunkWithSuspend(id string, index int) (cancelled bool) {
	for {
		err := w.sender.RequestChunk(id, index)
		if err == nil {
			return false
		}
		if !errors.Is(err, ErrSuspended) {
			w.fail(err)
			return true
		}
		if w.awaitResumeOrCancel() {
			return true
		}
	}
}

func (w *Worker) awaitResumeOrCancel() (cancelled bool) {
	_ = w.session.TransitionTo(StatusPaused)
	select {
	case <-w.resumeCh:
		_ = w.session.TransitionTo(StatusInProgress)
		return false
	case <-w.cancelCh:
		w.cancelled()
		return true
	case err := <-w.failCh:
		w.fail(err)
		return true
	}
}

func (w *Worker) waitBackoff(d time.Duration) (cancelled bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-w.cancelCh:
		w.cancelled()
		return true
	case err := <-w.failCh:
		w.fail(err)
		return true
	}
}

func (w *Worker) fail(err error) {
	_ = w.session.Close()
	if w.session.Request.Direction == DirectionDownload {
		_ = w.session.DeletePartialFile()
	}
	// Paused has no direct edge to Failed: leave the suspension first.
	if w.session.Status() == StatusPaused {
		_ = w.session.TransitionTo(StatusInProgress)
	}
	_ = w.session.TransitionTo(StatusFailed)
	w.events.Failed(w.session.Request.ID, err)
}

func (w *Worker) complete() {
	_ = w.session.Close()
	_ = w.session.TransitionTo(StatusCompleted)
	w.events.Completed(w.session.Request.ID)
}

func (w *Worker) cancelled() {
	_ = w.session.Close()
	if w.session.Request.Direction == DirectionDownload {
		_ = w.session.DeletePartialFile()
	}
	_ = w.session.TransitionTo(StatusCancelled)
	w.events.Cancelled(w.session.Request.ID)
}
