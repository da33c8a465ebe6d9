// Package policy implements the Policy Gate: a pure decision function
// evaluating an inbound transfer request against size, extension, and
// remembered-decision rules.
package policy

import (
	"path/filepath"
	"strings"
)

// Decision is the outcome of evaluating a request against a Snapshot.
type Decision string

const (
	// AutoAllow admits the request without prompting the user.
	AutoAllow Decision = "auto_allow"
	// AutoDeny rejects the request without prompting the user.
	AutoDeny Decision = "auto_deny"
	// Prompt defers the decision to the Approval Adapter.
	Prompt Decision = "prompt"
)

// Request is the subset of a transfer request the gate needs to decide.
type Request struct {
	ID       string
	Filename string
	FileSize int64
}

// Snapshot is the policy configuration consulted at decision time.
type Snapshot struct {
	MaxFileSize         int64
	AllowedExtensions   map[string]bool // lowercased, leading "."
	AutoApprovalEnabled bool
	// RememberedDecisions maps a request id to a remembered allow/deny.
	RememberedDecisions map[string]bool
}

// Evaluate implements spec.md §4.3's decision order: a remembered
// decision wins outright; otherwise an extension or size violation
// auto-denies even when auto-approval is enabled, so a permissive default
// never admits an unsafe type or oversized payload; otherwise
// auto-approval or, failing that, a prompt.
func Evaluate(req Request, snap Snapshot) (Decision, string) {
	if snap.RememberedDecisions != nil {
		if allowed, ok := snap.RememberedDecisions[req.ID]; ok {
			if allowed {
				return AutoAllow, ""
			}
			return AutoDeny, "remembered"
		}
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !snap.AllowedExtensions[ext] {
		return AutoDeny, "extension not allowed"
	}

	if req.FileSize <= 0 || req.FileSize > snap.MaxFileSize {
		return AutoDeny, "size out of range"
	}

	if snap.AutoApprovalEnabled {
		return AutoAllow, ""
	}

	return Prompt, ""
}

// NormalizeExtension lowercases an extension for allowed-extension set
// membership, so that AddAllowedFileExtension(".TXT") and subsequent checks
// against ".txt" agree (spec.md §8 idempotent-configuration property).
func NormalizeExtension(ext string) string {
	return strings.ToLower(ext)
}
