// Package policy evaluates path, command and quota decisions for a single
// step's Policy. The enforcer is an in-process soft limit: executors must
// consult it before every file access or edit; it cannot intercept
// operations it is not asked about.
package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/NSvoltage/bcce/internal/core"
)

// Decision is the outcome of one enforcement check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow returns a positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a negative decision with a reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Counters is a snapshot of the per-step usage observed by the enforcer.
type Counters struct {
	FilesRead   int `json:"files_read"`
	EditsMade   int `json:"edits_made"`
	CommandsRun int `json:"commands_run"`
	Denials     int `json:"denials"`
}

// Enforcer applies one Policy to a stream of prospective operations,
// keeping running counters against the file and edit quotas. It is scoped
// to a single step and never reused across steps.
type Enforcer struct {
	policy core.Policy

	mu       sync.Mutex
	counters Counters
}

// NewEnforcer creates an enforcer for a validated policy.
func NewEnforcer(p core.Policy) *Enforcer {
	return &Enforcer{policy: p}
}

// CheckRead decides whether a file may be read, consuming one unit of the
// file quota when allowed. Deny-by-default: a path must match an allowed
// glob.
func (e *Enforcer) CheckRead(path string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pathAllowed(path) {
		e.counters.Denials++
		return Deny(fmt.Sprintf("path %q does not match any allowed pattern", path))
	}
	if e.counters.FilesRead >= e.policy.FileQuota() {
		e.counters.Denials++
		return Deny(fmt.Sprintf("file quota reached (%d)", e.policy.FileQuota()))
	}
	e.counters.FilesRead++
	return Allow()
}

// CheckEdit decides whether a file may be modified, consuming one unit of
// the edit quota when allowed.
func (e *Enforcer) CheckEdit(path string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.pathAllowed(path) {
		e.counters.Denials++
		return Deny(fmt.Sprintf("path %q does not match any allowed pattern", path))
	}
	if e.counters.EditsMade >= e.policy.EditQuota() {
		e.counters.Denials++
		return Deny(fmt.Sprintf("edit quota reached (%d)", e.policy.EditQuota()))
	}
	e.counters.EditsMade++
	return Allow()
}

// CheckCommand decides whether a command may run. Matching is by exact
// executable name against the allowlist; an empty allowlist denies all.
func (e *Enforcer) CheckCommand(command string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := commandName(command)
	for _, allowed := range e.policy.CmdAllowlist {
		if allowed == name {
			e.counters.CommandsRun++
			return Allow()
		}
	}
	e.counters.Denials++
	if len(e.policy.CmdAllowlist) == 0 {
		return Deny("command allowlist is empty: all commands denied")
	}
	return Deny(fmt.Sprintf("command %q not in allowlist", name))
}

// Snapshot returns the counters observed so far.
func (e *Enforcer) Snapshot() Counters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// pathAllowed matches a path against the allowed globs. "**" allows
// everything; a pattern ending in "/**" allows any path under that prefix;
// otherwise filepath.Match semantics apply to the full path and, for bare
// patterns, to the base name.
func (e *Enforcer) pathAllowed(path string) bool {
	cleaned := filepath.Clean(path)
	// Traversal outside the workspace never matches an allowlist.
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return false
	}

	for _, pattern := range e.policy.AllowedPaths {
		if pattern == "**" {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if cleaned == prefix || strings.HasPrefix(cleaned, prefix+string(filepath.Separator)) {
				return true
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, cleaned); matched {
			return true
		}
		if !strings.ContainsRune(pattern, filepath.Separator) {
			if matched, _ := filepath.Match(pattern, filepath.Base(cleaned)); matched {
				return true
			}
		}
	}
	return false
}

// commandName extracts the executable name from a command line.
func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}
