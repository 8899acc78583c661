package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/capitalize-ai/celia/internal/auth"
)

const sessionFile = "session.json"

func sessionPath(dir string) string {
	return filepath.Join(dir, sessionFile)
}

func saveSession(dir string, sess auth.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(sessionPath(dir), data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// loadSession returns the stored session; ok is false when none is stored.
func loadSession(dir string) (sess auth.Session, ok bool, err error) {
	data, err := os.ReadFile(sessionPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return auth.Session{}, false, nil
	}
	if err != nil {
		return auth.Session{}, false, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &sess); err != nil {
		return auth.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return sess, sess.IDToken != "", nil
}

func clearSession(dir string) error {
	err := os.Remove(sessionPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
