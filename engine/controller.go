// Package engine implements the Engine Controller: the single
// coordinating actor that owns the session table, dispatches inbound
// wire frames, admits approved transfers onto a bounded pool of
// workers, and republishes everything as a small set of named events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rstransfer/approval"
	"rstransfer/eventbus"
	"rstransfer/policy"
	"rstransfer/protocol"
	"rstransfer/settings"
	"rstransfer/transfer"
	"rstransfer/transport"
	"rstransfer/validation"
)

// Clamp bounds for the engine's runtime-configurable settings.
const (
	MinChunkSize                  = 1024
	MaxChunkSize                  = 1 << 20
	DefaultChunkSize              = 64 * 1024
	MinConcurrentTransfers        = 1
	MaxConcurrentTransfersLimit   = 10
	DefaultMaxConcurrentTransfers = 3
	MinMaxFileSize                = 1024
	DefaultMaxFileSize            = 100 * 1024 * 1024
)

// Transport is the duplex channel capability the Controller needs.
// transport.Client implements it; tests supply a fake.
type Transport interface {
	Connect(ctx context.Context, rawURL string) error
	Disconnect() error
	IsConnected() bool
	SendText(payload []byte) error
	SendBinary(payload []byte) error
	EventBus() *eventbus.Bus
}

// Options configures a Controller. Zero values fall back to the
// spec's defaults or to whatever settings.Store already has on disk.
type Options struct {
	ChunkSize               int
	MaxConcurrentTransfers  int
	MaxFileSize             int64
	AllowedExtensions       []string
	AutoApprovalEnabled     bool
	ApprovalTimeout         time.Duration
	RememberDecisionEnabled bool
	EncryptionEnabled       bool
	CompressionEnabled      bool
	// DownloadDir is where inbound peer-initiated uploads are written.
	DownloadDir string
	// SharedRoot is where inbound peer-initiated download requests are
	// resolved from.
	SharedRoot string
	// OnAuditEvent, if set, is invoked alongside the typed event bus for
	// every security-relevant lifecycle event (request, approval,
	// completion, security violation).
	OnAuditEvent func(name string, fields map[string]any)
}

// Controller is the Engine Controller described in the component
// design: it owns the session table, the transport connection, the
// approval/policy pipeline, and a bounded pool of Transfer Workers.
type Controller struct {
	mu sync.RWMutex

	transport       Transport
	bus             *eventbus.Bus
	approvalAdapter *approval.Adapter
	store           settings.Store
	logger          zerolog.Logger
	onAudit         func(name string, fields map[string]any)

	chunkSize          int
	maxConcurrent      int
	maxFileSize        int64
	allowedExtensions  map[string]bool
	autoApproval       bool
	rememberDecision   bool
	encryptionEnabled  bool
	compressionEnabled bool
	downloadDir        string
	sharedRoot         string

	sessionID string
	connected bool
	cancel    context.CancelFunc

	sessions map[string]*transfer.Session
	workers  map[string]*transfer.Worker
	active   map[string]bool
	queue    []string

	unsubscribers []eventbus.Unsubscribe
}

// New constructs a Controller, seeding its runtime policy from opts
// and any snapshot already persisted in store.
func New(opts Options, t Transport, ui approval.UI, store settings.Store, logger zerolog.Logger) (*Controller, error) {
	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("engine: load settings: %w", err)
	}

	c := &Controller{
		transport:          t,
		bus:                eventbus.New(),
		store:              store,
		logger:             logger,
		onAudit:            opts.OnAuditEvent,
		chunkSize:          clampChunkSize(opts.ChunkSize),
		maxConcurrent:      clampMaxConcurrent(opts.MaxConcurrentTransfers),
		maxFileSize:        clampMaxFileSize(firstNonZeroInt64(opts.MaxFileSize, snap.Security.MaxFileSize)),
		allowedExtensions:  buildExtensionSet(opts.AllowedExtensions, snap.Security.AllowedExtensions),
		autoApproval:       opts.AutoApprovalEnabled || snap.AutoApproval.Enabled,
		rememberDecision:   opts.RememberDecisionEnabled || snap.AutoApproval.RememberDecision,
		encryptionEnabled:  opts.EncryptionEnabled,
		compressionEnabled: opts.CompressionEnabled,
		downloadDir:        opts.DownloadDir,
		sharedRoot:         opts.SharedRoot,
		sessions:           make(map[string]*transfer.Session),
		workers:            make(map[string]*transfer.Worker),
		active:             make(map[string]bool),
	}

	timeout := opts.ApprovalTimeout
	if timeout <= 0 && snap.AutoApproval.Timeout > 0 {
		timeout = time.Duration(snap.AutoApproval.Timeout) * time.Second
	}
	c.approvalAdapter = approval.New(ui, timeout, store)

	return c, nil
}

// EventBus returns the bus the Controller's observable events are
// emitted on.
func (c *Controller) EventBus() *eventbus.Bus {
	return c.bus
}

// ConnectToServer dials rawURL, registers the session, and starts
// routing inbound frames. Idempotent while already connected.
func (c *Controller) ConnectToServer(ctx context.Context, rawURL, sessionID string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.sessionID = sessionID
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	dialURL := rawURL
	c.mu.RLock()
	if c.encryptionEnabled {
		dialURL = preferSecureScheme(rawURL)
	}
	c.mu.RUnlock()

	if err := c.transport.Connect(ctx, dialURL); err != nil {
		cancel()
		c.bus.Emit(EventConnectionError, ConnectionErrorEvent{Err: err})
		return err
	}

	c.subscribeTransport(runCtx)

	register := protocol.SessionRegister{Type: protocol.TypeSessionRegister, Timestamp: time.Now(), SessionID: sessionID, Role: "client"}
	if payload, err := protocol.EncodeControlFrame(register); err == nil {
		_ = c.transport.SendText(payload)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.bus.Emit(EventConnected, nil)
	return nil
}

func preferSecureScheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Scheme == "ws" {
		u.Scheme = "wss"
	}
	return u.String()
}

func (c *Controller) subscribeTransport(ctx context.Context) {
	bus := c.transport.EventBus()

	unsub1 := bus.On(transport.EventTextFrame, func(payload any) {
		frame, ok := payload.([]byte)
		if ok {
			c.handleTextFrame(ctx, frame)
		}
	})
	unsub2 := bus.On(transport.EventBinaryFrame, func(payload any) {
		frame, ok := payload.([]byte)
		if ok {
			c.handleBinaryFrame(frame)
		}
	})
	unsub3 := bus.On(transport.EventDisconnected, func(any) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.bus.Emit(EventDisconnected, nil)
	})
	unsub4 := bus.On(transport.EventError, func(payload any) {
		err, _ := payload.(error)
		c.bus.Emit(EventConnectionError, ConnectionErrorEvent{Err: err})
		if errors.Is(err, transport.ErrMaxReconnectAttemptsExceeded) {
			c.failInFlightTransfers(errors.New("transport lost"))
		}
	})
	unsub5 := bus.On(transport.EventConnected, func(any) {
		c.mu.Lock()
		c.connected = true
		workers := make([]*transfer.Worker, 0, len(c.workers))
		for _, w := range c.workers {
			workers = append(workers, w)
		}
		c.mu.Unlock()
		for _, w := range workers {
			w.Resume()
		}
		c.bus.Emit(EventConnected, nil)
	})

	c.mu.Lock()
	c.unsubscribers = append(c.unsubscribers, unsub1, unsub2, unsub3, unsub4, unsub5)
	c.mu.Unlock()
}

// failInFlightTransfers forces every active Worker to abandon its
// session with err, used once reconnection is exhausted and the
// transport is considered permanently lost for the in-flight sessions.
func (c *Controller) failInFlightTransfers(err error) {
	c.mu.RLock()
	workers := make([]*transfer.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.mu.RUnlock()
	for _, w := range workers {
		w.Fail(err)
	}
}

// DisconnectFromServer cancels every active transfer, stops routing
// inbound frames, and closes the transport.
func (c *Controller) DisconnectFromServer() error {
	c.mu.Lock()
	for _, unsub := range c.unsubscribers {
		unsub()
	}
	c.unsubscribers = nil
	for _, w := range c.workers {
		w.Cancel()
	}
	cancel := c.cancel
	c.connected = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.transport.Disconnect()
	c.bus.Emit(EventDisconnected, nil)
	return err
}

// RequestFileUpload validates path, computes its whole-file checksum,
// allocates a Pending session, and sends the outbound request.
func (c *Controller) RequestFileUpload(path, sessionID, technician string) (string, error) {
	c.mu.RLock()
	check := validation.FileCheck{MaxSize: c.maxFileSize, AllowedExtensions: c.allowedExtensions}
	c.mu.RUnlock()

	info, err := check.ValidateLocalFile(path)
	if err != nil {
		c.bus.Emit(EventFileValidationFailed, FileValidationFailedEvent{Path: path, Reason: err.Error()})
		return "", err
	}

	checksum, err := transfer.FileChecksumHex(path)
	if err != nil {
		c.bus.Emit(EventFileValidationFailed, FileValidationFailedEvent{Path: path, Reason: err.Error()})
		return "", err
	}

	id := uuid.NewString()
	req := transfer.Request{
		ID: id, SessionID: sessionID, Filename: filepath.Base(path),
		FileSize: info.Size(), Checksum: checksum,
		Direction: transfer.DirectionUpload, Technician: technician, LocalPath: path,
	}

	c.mu.Lock()
	c.sessions[id] = transfer.NewSession(req, c.chunkSize)
	c.mu.Unlock()

	msg := protocol.FileTransferRequest{
		Type: protocol.TypeFileTransferRequest, Timestamp: time.Now(), ID: id, SessionID: sessionID,
		Filename: req.Filename, FileSize: req.FileSize, Checksum: req.Checksum,
		TransferType: protocol.TransferUpload, Technician: technician,
	}
	payload, err := protocol.EncodeControlFrame(msg)
	if err != nil {
		return "", err
	}
	if err := c.transport.SendText(payload); err != nil {
		return "", err
	}

	c.audit("transfer_requested", map[string]any{"transfer_id": id, "direction": "upload", "filename": req.Filename})
	c.bus.Emit(EventTransferRequested, TransferEvent{TransferID: id})
	return id, nil
}

// RequestFileDownload allocates a Pending download session and sends
// the outbound request for filename.
func (c *Controller) RequestFileDownload(filename, sessionID, technician, savePath string) (string, error) {
	c.mu.RLock()
	ext := policy.NormalizeExtension(filepath.Ext(filename))
	allowed := c.allowedExtensions[ext]
	c.mu.RUnlock()
	if !allowed {
		err := fmt.Errorf("engine: extension %q not allowed", ext)
		c.bus.Emit(EventFileValidationFailed, FileValidationFailedEvent{Path: filename, Reason: err.Error()})
		return "", err
	}

	id := uuid.NewString()
	req := transfer.Request{
		ID: id, SessionID: sessionID, Filename: filename,
		Direction: transfer.DirectionDownload, Technician: technician, LocalPath: savePath,
	}

	c.mu.Lock()
	c.sessions[id] = transfer.NewSession(req, c.chunkSize)
	c.mu.Unlock()

	msg := protocol.FileTransferRequest{
		Type: protocol.TypeFileTransferRequest, Timestamp: time.Now(), ID: id, SessionID: sessionID,
		Filename: filename, TransferType: protocol.TransferDownload, Technician: technician,
	}
	payload, err := protocol.EncodeControlFrame(msg)
	if err != nil {
		return "", err
	}
	if err := c.transport.SendText(payload); err != nil {
		return "", err
	}

	c.audit("transfer_requested", map[string]any{"transfer_id": id, "direction": "download", "filename": filename})
	c.bus.Emit(EventTransferRequested, TransferEvent{TransferID: id})
	return id, nil
}

func (c *Controller) approveAndStart(id string) {
	c.mu.Lock()
	session, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return
	}

	if err := session.TransitionTo(transfer.StatusApproved); err != nil {
		c.logger.Debug().Str("transfer_id", id).Err(err).Msg("approve: transition skipped")
	}
	c.audit("transfer_approved", map[string]any{"transfer_id": id})
	c.bus.Emit(EventTransferApproved, TransferEvent{TransferID: id})
	c.admitOrQueue(id)
}

func (c *Controller) rejectTransfer(id, reason string) {
	c.mu.Lock()
	session, ok := c.sessions[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	_ = session.TransitionTo(transfer.StatusRejected)
	c.audit("transfer_rejected", map[string]any{"transfer_id": id, "reason": reason})
	c.bus.Emit(EventTransferRejected, TransferRejectedEvent{TransferID: id, Reason: reason})
}

// admitOrQueue starts id's worker immediately if a slot is free under
// maxConcurrent, otherwise appends it to the FIFO admission queue.
func (c *Controller) admitOrQueue(id string) {
	c.mu.Lock()
	if len(c.active) >= c.maxConcurrent {
		c.queue = append(c.queue, id)
		c.mu.Unlock()
		return
	}
	c.active[id] = true
	c.mu.Unlock()
	c.startWorker(id)
}

func (c *Controller) startWorker(id string) {
	c.mu.Lock()
	session := c.sessions[id]
	c.mu.Unlock()
	if session == nil {
		return
	}

	if err := session.TransitionTo(transfer.StatusInProgress); err != nil {
		c.logger.Error().Str("transfer_id", id).Err(err).Msg("start worker: transition failed")
		return
	}

	worker := transfer.NewWorker(session, &chunkSenderAdapter{c: c}, &workerEventsAdapter{c: c}, transfer.WorkerOptions{})

	c.mu.Lock()
	c.workers[id] = worker
	c.mu.Unlock()

	c.bus.Emit(EventTransferStarted, TransferEvent{TransferID: id})

	go c.sampleProgress(session)
	if session.Request.Direction == transfer.DirectionUpload {
		go worker.RunUpload()
	} else {
		go worker.RunDownload()
	}
}

// sampleProgress drives session's 1Hz speed sampler while it is
// InProgress, pausing (without exiting) across a Paused interval so
// Resume picks sampling back up, and exits once the session reaches any
// terminal status.
func (c *Controller) sampleProgress(session *transfer.Session) {
	ticker := time.NewTicker(transfer.SpeedSampleInterval)
	defer ticker.Stop()

	for range ticker.C {
		status := session.Status()
		if transfer.IsTerminal(status) {
			return
		}
		if status != transfer.StatusInProgress {
			continue
		}
		session.Progress.Sample()
	}
}

// finishTransfer retires id's worker slot and admits the oldest queued
// transfer, if any.
func (c *Controller) finishTransfer(id string) {
	c.mu.Lock()
	delete(c.active, id)
	delete(c.workers, id)
	var next string
	if len(c.queue) > 0 {
		next = c.queue[0]
		c.queue = c.queue[1:]
		c.active[next] = true
	}
	c.mu.Unlock()

	if next != "" {
		c.startWorker(next)
	}
}

// PauseTransfer suspends an in-flight transfer's Worker and notifies
// the peer.
func (c *Controller) PauseTransfer(id string) error {
	c.mu.RLock()
	worker, ok := c.workers[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: no active worker for transfer %s", id)
	}
	worker.Pause()
	return c.sendControl(id, protocol.ActionPause, nil)
}

// ResumeTransfer resumes a paused transfer.
func (c *Controller) ResumeTransfer(id string) error {
	c.mu.RLock()
	worker, ok := c.workers[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("engine: no active worker for transfer %s", id)
	}
	worker.Resume()
	return c.sendControl(id, protocol.ActionResume, nil)
}

// CancelTransfer tears down id's Worker (or removes it from the
// admission queue if it has none yet) and notifies the peer. When a
// Worker is active, its own cancellation callback (workerEventsAdapter,
// triggered once the Worker goroutine actually unwinds) retires the
// pool slot, admits the next queued transfer, and emits
// EventTransferCancelled — this method must not also do so, or the slot
// gets freed and the event fires twice.
func (c *Controller) CancelTransfer(id string) error {
	c.mu.RLock()
	worker, active := c.workers[id]
	c.mu.RUnlock()

	if active {
		worker.Cancel()
	} else {
		c.mu.Lock()
		session, ok := c.sessions[id]
		c.removeQueuedLocked(id)
		c.mu.Unlock()
		if !ok {
			return fmt.Errorf("engine: unknown transfer %s", id)
		}
		_ = session.TransitionTo(transfer.StatusCancelled)
		c.audit("transfer_cancelled", map[string]any{"transfer_id": id})
		c.bus.Emit(EventTransferCancelled, TransferEvent{TransferID: id})
	}

	return c.sendControl(id, protocol.ActionCancel, nil)
}

func (c *Controller) removeQueuedLocked(id string) {
	out := c.queue[:0]
	for _, q := range c.queue {
		if q != id {
			out = append(out, q)
		}
	}
	c.queue = out
}

func (c *Controller) sendControl(id string, action protocol.ControlAction, index *int) error {
	msg := protocol.TransferControl{Type: protocol.TypeTransferControl, Timestamp: time.Now(), TransferID: id, Action: action, Index: index}
	payload, err := protocol.EncodeControlFrame(msg)
	if err != nil {
		return err
	}
	return c.transport.SendText(payload)
}

// GetTransferProgress returns a snapshot of a known transfer's progress.
func (c *Controller) GetTransferProgress(id string) (transfer.Snapshot, error) {
	c.mu.RLock()
	session, ok := c.sessions[id]
	c.mu.RUnlock()
	if !ok {
		return transfer.Snapshot{}, fmt.Errorf("engine: unknown transfer %s", id)
	}
	return session.Progress.Snapshot(), nil
}

// GetActiveTransfers returns the ids currently running under a Worker,
// sorted for deterministic output.
func (c *Controller) GetActiveTransfers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Controller) audit(name string, fields map[string]any) {
	if c.onAudit != nil {
		c.onAudit(name, fields)
	}
}

func (c *Controller) policySnapshotLocked() policy.Snapshot {
	remembered := map[string]bool{}
	if snap, err := c.store.Load(); err == nil {
		remembered = snap.RememberedDecisions
	}
	return policy.Snapshot{
		MaxFileSize:         c.maxFileSize,
		AllowedExtensions:   c.allowedExtensions,
		AutoApprovalEnabled: c.autoApproval,
		RememberedDecisions: remembered,
	}
}

func clampChunkSize(n int) int {
	if n <= 0 {
		n = DefaultChunkSize
	}
	if n < MinChunkSize {
		return MinChunkSize
	}
	if n > MaxChunkSize {
		return MaxChunkSize
	}
	return n
}

func clampMaxConcurrent(n int) int {
	if n <= 0 {
		n = DefaultMaxConcurrentTransfers
	}
	if n < MinConcurrentTransfers {
		return MinConcurrentTransfers
	}
	if n > MaxConcurrentTransfersLimit {
		return MaxConcurrentTransfersLimit
	}
	return n
}

func clampMaxFileSize(n int64) int64 {
	if n <= 0 {
		n = DefaultMaxFileSize
	}
	if n < MinMaxFileSize {
		return MinMaxFileSize
	}
	return n
}

func buildExtensionSet(primary, fallback []string) map[string]bool {
	list := primary
	if len(list) == 0 {
		list = fallback
	}
	set := make(map[string]bool, len(list))
	for _, ext := range list {
		set[policy.NormalizeExtension(ext)] = true
	}
	return set
}

func extensionSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for ext := range set {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func firstNonZeroInt64(values ...int64) int64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
