package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NSvoltage/bcce/internal/core"
)

func intp(v int) *int { return &v }

func sampleState(t *testing.T) *core.RunState {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	def := core.WorkflowDefinition{
		Version:  "1.0",
		Workflow: "w",
		Model:    "m",
		Steps:    []core.StepDefinition{{ID: "s1", Type: core.StepTypePrompt, Prompt: "p"}},
	}
	return core.NewRunState(core.NewRunID(now), def, now)
}

func TestStore_WriteAndReadText(t *testing.T) {
	st := sampleState(t)
	store, err := NewStore(t.TempDir(), st.RunID)
	require.NoError(t, err)

	path, err := store.WriteText("s1", OutputFile, "hello world")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(store.RunDir(), "s1", OutputFile), path)

	got, err := store.ReadText("s1", OutputFile)
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
}

func TestStore_RedactsAtWriteBoundary(t *testing.T) {
	st := sampleState(t)
	store, err := NewStore(t.TempDir(), st.RunID)
	require.NoError(t, err)

	secret := "Bearer abcdefghijklmnopqrstuvwxyz0123"
	_, err = store.WriteText("s1", TranscriptFile, "agent said: "+secret)
	require.NoError(t, err)

	got, err := store.ReadText("s1", TranscriptFile)
	require.NoError(t, err)
	require.NotContains(t, got, "abcdefghijklmnopqrstuvwxyz0123")
	require.Contains(t, got, "[REDACTED]")
}

func TestStore_SaveLoadStateRoundTrip(t *testing.T) {
	st := sampleState(t)
	root := t.TempDir()
	store, err := NewStore(root, st.RunID)
	require.NoError(t, err)

	require.NoError(t, st.Start())
	st.RecordStep(core.StepResult{StepID: "s1", Status: core.StepStatusCompleted})
	require.NoError(t, store.SaveState(st))

	loaded, err := store.LoadState()
	require.NoError(t, err)
	require.Equal(t, st.RunID, loaded.RunID)
	require.Equal(t, core.RunStatusRunning, loaded.Status)
	require.Len(t, loaded.StepResults, 1)
	require.Equal(t, "s1", loaded.StepResults[0].StepID)
}

func TestStore_LoadStateDetectsCorruption(t *testing.T) {
	st := sampleState(t)
	store, err := NewStore(t.TempDir(), st.RunID)
	require.NoError(t, err)
	require.NoError(t, store.SaveState(st))

	data, err := os.ReadFile(store.StatePath())
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"current_step_index": 0`, `"current_step_index": 7`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(store.StatePath(), []byte(tampered), 0o644))

	_, err = store.LoadState()
	require.Error(t, err)
	require.True(t, core.IsCategory(err, core.ErrCatState), "got %v", err)
}

func TestStore_LoadStateFallsBackToBackup(t *testing.T) {
	st := sampleState(t)
	store, err := NewStore(t.TempDir(), st.RunID)
	require.NoError(t, err)

	require.NoError(t, store.SaveState(st))
	require.NoError(t, st.Start())
	require.NoError(t, store.SaveState(st)) // moves generation 1 to .bak

	require.NoError(t, os.WriteFile(store.StatePath(), []byte("garbage"), 0o644))

	loaded, err := store.LoadState()
	require.NoError(t, err)
	require.Equal(t, core.RunStatusInitialized, loaded.Status)
}

func TestOpenStore_UnknownRunFailsFast(t *testing.T) {
	_, err := OpenStore(t.TempDir(), "run-0-deadbeef")
	require.Error(t, err)
	require.True(t, core.IsCategory(err, core.ErrCatResume), "got %v", err)
}

func TestStore_WriteJSONByteStable(t *testing.T) {
	// The same policy serialized twice under different run ids must be
	// byte-identical.
	p := core.Policy{
		TimeoutSeconds: intp(300),
		MaxFiles:       intp(10),
		MaxEdits:       intp(2),
		AllowedPaths:   []string{"src/**"},
		CmdAllowlist:   []string{"go"},
	}

	root := t.TempDir()
	storeA, err := NewStore(root, "run-1-aaaaaaaa")
	require.NoError(t, err)
	storeB, err := NewStore(root, "run-2-bbbbbbbb")
	require.NoError(t, err)

	_, err = storeA.WriteJSON("fix", PolicyFile, p)
	require.NoError(t, err)
	_, err = storeB.WriteJSON("fix", PolicyFile, p)
	require.NoError(t, err)

	a, err := storeA.ReadText("fix", PolicyFile)
	require.NoError(t, err)
	b, err := storeB.ReadText("fix", PolicyFile)
	require.NoError(t, err)
	require.Equal(t, a, b)
}
