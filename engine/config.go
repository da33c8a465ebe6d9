package engine

import (
	"time"

	"rstransfer/policy"
	"rstransfer/settings"
)

// SetChunkSize clamps and applies a new chunk size for future
// transfers; in-flight workers keep their original chunk size.
func (c *Controller) SetChunkSize(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunkSize = clampChunkSize(n)
	return c.chunkSize
}

// SetMaxConcurrentTransfers clamps and applies the concurrency bound.
// A lowered bound does not pause already-running transfers; it only
// narrows future admission.
func (c *Controller) SetMaxConcurrentTransfers(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxConcurrent = clampMaxConcurrent(n)
	return c.maxConcurrent
}

// SetEncryptionEnabled toggles whether ConnectToServer upgrades a
// "ws://" URL to "wss://".
func (c *Controller) SetEncryptionEnabled(enabled bool) {
	c.mu.Lock()
	c.encryptionEnabled = enabled
	c.mu.Unlock()
}

// SetCompressionEnabled records the compression preference; wire-level
// compression negotiation is out of scope for this engine.
func (c *Controller) SetCompressionEnabled(enabled bool) {
	c.mu.Lock()
	c.compressionEnabled = enabled
	c.mu.Unlock()
}

// SetMaxFileSize clamps, applies, and persists the size policy.
func (c *Controller) SetMaxFileSize(n int64) (int64, error) {
	c.mu.Lock()
	c.maxFileSize = clampMaxFileSize(n)
	snapshotSize := c.maxFileSize
	extensions := extensionSlice(c.allowedExtensions)
	c.mu.Unlock()
	return snapshotSize, c.store.SetSecurity(settings.Security{MaxFileSize: snapshotSize, AllowedExtensions: extensions})
}

// AddAllowedFileExtension adds ext (normalized) to the allowed set and
// persists it. Idempotent: adding an already-present extension is a
// no-op write.
func (c *Controller) AddAllowedFileExtension(ext string) error {
	norm := policy.NormalizeExtension(ext)
	c.mu.Lock()
	c.allowedExtensions[norm] = true
	maxSize := c.maxFileSize
	extensions := extensionSlice(c.allowedExtensions)
	c.mu.Unlock()
	return c.store.SetSecurity(settings.Security{MaxFileSize: maxSize, AllowedExtensions: extensions})
}

// RemoveAllowedFileExtension removes ext (normalized) from the allowed
// set and persists it.
func (c *Controller) RemoveAllowedFileExtension(ext string) error {
	norm := policy.NormalizeExtension(ext)
	c.mu.Lock()
	delete(c.allowedExtensions, norm)
	maxSize := c.maxFileSize
	extensions := extensionSlice(c.allowedExtensions)
	c.mu.Unlock()
	return c.store.SetSecurity(settings.Security{MaxFileSize: maxSize, AllowedExtensions: extensions})
}

// SetAutoApprovalEnabled toggles whether the Policy Gate auto-allows a
// request that passes size/extension checks instead of prompting.
func (c *Controller) SetAutoApprovalEnabled(enabled bool) error {
	c.mu.Lock()
	c.autoApproval = enabled
	remember := c.rememberDecision
	c.mu.Unlock()
	timeout := c.approvalAdapter.Timeout()
	return c.store.SetAutoApproval(settings.AutoApproval{Enabled: enabled, Timeout: int64(timeout / time.Second), RememberDecision: remember})
}

// SetApprovalTimeout clamps and applies the Approval Adapter's prompt
// timeout, returning the effective (clamped) value.
func (c *Controller) SetApprovalTimeout(timeout time.Duration) time.Duration {
	c.approvalAdapter.SetTimeout(timeout)
	clamped := c.approvalAdapter.Timeout()

	c.mu.RLock()
	enabled := c.autoApproval
	remember := c.rememberDecision
	c.mu.RUnlock()

	_ = c.store.SetAutoApproval(settings.AutoApproval{Enabled: enabled, Timeout: int64(clamped / time.Second), RememberDecision: remember})
	return clamped
}

// SetRememberDecisionEnabled records the remember-decision preference and
// persists it with the auto-approval settings. The Approval Adapter
// persists a decision marked "remember" whatever this setting is.
func (c *Controller) SetRememberDecisionEnabled(enabled bool) error {
	c.mu.Lock()
	c.rememberDecision = enabled
	autoApproval := c.autoApproval
	c.mu.Unlock()
	timeout := c.approvalAdapter.Timeout()
	return c.store.SetAutoApproval(settings.AutoApproval{Enabled: autoApproval, Timeout: int64(timeout / time.Second), RememberDecision: enabled})
}
