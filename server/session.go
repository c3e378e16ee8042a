package blinkwise

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/coder/quartz"
	Mt "github.com/maroda/blinkwise/types"
)

// SessionDateLayout is how snapshot dates are written
const SessionDateLayout = "2006-01-02 15:04:05"

// SessionStore writes session snapshots as session_<unix>.json files
type SessionStore struct {
	Dir   string
	Clock quartz.Clock
}

func NewSessionStore(dir string, clock quartz.Clock) *SessionStore {
	return &SessionStore{Dir: dir, Clock: clock}
}

// Save writes the snapshot and returns the file path
func (ss *SessionStore) Save(snap Mt.SessionSnapshot) (string, error) {
	if err := os.MkdirAll(ss.Dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("could not encode session: %w", err)
	}

	path := filepath.Join(ss.Dir, fmt.Sprintf("session_%d.json", ss.Clock.Now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("could not write session: %w", err)
	}

	slog.Info("Session saved",
		slog.String("session", snap.SessionID),
		slog.String("file", path))
	return path, nil
}
