// Package artifact owns the run-scoped directory. All persistence flows
// through the Store: per-step artifacts and the canonical run state. Text
// leaving the engine is redacted here, at the write boundary, so no
// executor can forget to scrub its output.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/redact"
)

// Canonical artifact file names.
const (
	StateFile      = "run-state.json"
	PolicyFile     = "policy.json"
	TranscriptFile = "transcript.md"
	OutputFile     = "output.txt"
	MetricsFile    = "metrics.json"
)

// Store writes and reads artifacts for exactly one run.
type Store struct {
	root     string
	runID    core.RunID
	redactor *redact.Redactor
}

// NewStore creates the run directory and returns a store over it.
func NewStore(artifactsRoot string, runID core.RunID) (*Store, error) {
	s := &Store{
		root:     filepath.Join(artifactsRoot, string(runID)),
		runID:    runID,
		redactor: redact.New(),
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, core.ErrArtifact(fmt.Sprintf("creating run directory %s", s.root)).WithCause(err)
	}
	return s, nil
}

// OpenStore opens an existing run directory for resume. It fails fast when
// the run is unknown.
func OpenStore(artifactsRoot string, runID core.RunID) (*Store, error) {
	s := &Store{
		root:     filepath.Join(artifactsRoot, string(runID)),
		runID:    runID,
		redactor: redact.New(),
	}
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return nil, core.ErrResume(core.CodeRunNotFound,
			fmt.Sprintf("run directory not found: %s", s.root))
	}
	return s, nil
}

// RunDir returns the directory owned by this store.
func (s *Store) RunDir() string {
	return s.root
}

// RunID returns the run this store belongs to.
func (s *Store) RunID() core.RunID {
	return s.runID
}

// StepDir returns (and creates) the per-step artifact directory.
func (s *Store) StepDir(stepID string) (string, error) {
	dir := filepath.Join(s.root, stepID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", core.ErrArtifact(fmt.Sprintf("creating step directory %s", dir)).WithCause(err)
	}
	return dir, nil
}

// WriteText persists a text artifact for a step, redacting credential
// shapes first. Returns the written path.
func (s *Store) WriteText(stepID, name, content string) (string, error) {
	dir, err := s.StepDir(stepID)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := atomicWriteFile(path, []byte(s.redactor.Apply(content)), 0o644); err != nil {
		return "", core.ErrArtifact(fmt.Sprintf("writing %s", path)).WithCause(err)
	}
	return path, nil
}

// WriteJSON persists a JSON artifact for a step. The serialized form runs
// through the same redaction boundary as text artifacts.
func (s *Store) WriteJSON(stepID, name string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", core.ErrArtifact(fmt.Sprintf("marshaling %s for step %s", name, stepID)).WithCause(err)
	}
	return s.WriteText(stepID, name, string(data))
}

// ReadText reads a previously written step artifact.
func (s *Store) ReadText(stepID, name string) (string, error) {
	path := filepath.Join(s.root, stepID, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", core.ErrNotFound("artifact", path).WithCause(err)
	}
	return string(data), nil
}

// stateEnvelope wraps the run state with integrity metadata.
type stateEnvelope struct {
	Version   int            `json:"version"`
	Checksum  string         `json:"checksum"`
	UpdatedAt time.Time      `json:"updated_at"`
	State     *core.RunState `json:"state"`
}

// SaveState persists the canonical run state atomically, keeping a backup
// of the previous generation. This is the durability point that makes
// resume deterministic.
func (s *Store) SaveState(state *core.RunState) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return core.ErrArtifact("marshaling run state").WithCause(err)
	}
	hash := sha256.Sum256(stateBytes)

	envelope := stateEnvelope{
		Version:   1,
		Checksum:  hex.EncodeToString(hash[:]),
		UpdatedAt: time.Now(),
		State:     state,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return core.ErrArtifact("marshaling state envelope").WithCause(err)
	}

	path := s.StatePath()
	if prev, err := os.ReadFile(path); err == nil {
		if err := atomicWriteFile(path+".bak", prev, 0o644); err != nil {
			return core.ErrArtifact("writing state backup").WithCause(err)
		}
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return core.ErrArtifact("writing run state").WithCause(err)
	}
	return nil
}

// LoadState reads and verifies the canonical run state, falling back to
// the backup generation when the primary is corrupted.
func (s *Store) LoadState() (*core.RunState, error) {
	state, err := s.loadStateFrom(s.StatePath())
	if err != nil {
		backup, backupErr := s.loadStateFrom(s.StatePath() + ".bak")
		if backupErr != nil {
			return nil, err
		}
		return backup, nil
	}
	return state, nil
}

func (s *Store) loadStateFrom(path string) (*core.RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrResume(core.CodeRunNotFound,
			fmt.Sprintf("no run state at %s", path)).WithCause(err)
	}

	var envelope stateEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "unreadable state envelope").WithCause(err)
	}
	if envelope.State == nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "empty state envelope")
	}

	stateBytes, err := json.Marshal(envelope.State)
	if err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "re-marshaling state for checksum").WithCause(err)
	}
	hash := sha256.Sum256(stateBytes)
	if hex.EncodeToString(hash[:]) != envelope.Checksum {
		return nil, core.ErrState(core.CodeStateCorrupted, "checksum mismatch")
	}
	return envelope.State, nil
}

// StatePath returns the canonical run state file path.
func (s *Store) StatePath() string {
	return filepath.Join(s.root, StateFile)
}
