package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists the last-known sessionId for a channel to a single-line
// file named "<channelId>-session.txt" under a directory (default the
// user's home directory), per spec §6 "Persisted state". The file never
// contains secrets and may be absent; absence is not an error.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. If dir is empty, the user's home
// directory is resolved lazily on each call so a zero-value Store is usable.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) resolveDir() (string, error) {
	if s.dir != "" {
		return s.dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("session: resolve home directory: %w", err)
	}
	return home, nil
}

func (s *Store) path(channelID string) (string, error) {
	dir, err := s.resolveDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, channelID+"-session.txt"), nil
}

// Load reads the persisted sessionId for channelID. It returns ("", nil)
// if no file exists — a missing file is not an error, per spec §6.
func (s *Store) Load(channelID string) (string, error) {
	path, err := s.path(channelID)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("session: read %s: %w", path, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Save writes sessionId for channelID, overwriting any previous value.
// Best-effort by convention of the callers (spec §4.1: "Persist sessionId
// keyed by channelId (best-effort)") — callers may choose to ignore the
// returned error.
func (s *Store) Save(channelID, sessionID string) error {
	path, err := s.path(channelID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(sessionID+"\n"), 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	return nil
}

// Clear removes the persisted sessionId for channelID, if present. Used by
// disconnect, which clears it after every successful server disconnect
// (spec §4.1 disconnect contract).
func (s *Store) Clear(channelID string) error {
	path, err := s.path(channelID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: remove %s: %w", path, err)
	}
	return nil
}
