package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	sessionFile = "session.json"
)

// SessionState is the persisted CLI attachment: which user and session the
// next chat invocation should append to.
type SessionState struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`

	// AttachedAt records when the CLI attached to the session.
	AttachedAt time.Time `json:"attached_at"`
}

// LoadSessionState loads the state from a target .engram/session.json.
// Returns nil, nil if no state exists (next chat starts a fresh session).
// If overrideDir is non-empty, it is used instead of the default location.
func (m *Manager) LoadSessionState(overrideDir string) (*SessionState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, sessionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}

	state := &SessionState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}

	return state, nil
}

// SaveSessionState persists the state to a target .engram/session.json.
func (m *Manager) SaveSessionState(state *SessionState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil session state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	path := filepath.Join(dir, sessionFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}

	return nil
}

// ClearSessionState removes the session state file so the next chat starts
// a fresh session. Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearSessionState(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, sessionFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing session state: %w", err)
	}

	return nil
}
