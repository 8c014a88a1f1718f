package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"insta_relay/internal/storage/file"
)

// ErrNoSession is returned by FileStore.Load when no usable artifact exists.
var ErrNoSession = errors.New("no saved session")

// Session is the persisted login artifact.
type Session struct {
	Username string            `json:"username"`
	Cookies  map[string]string `json:"cookies"`
	SavedAt  time.Time         `json:"saved_at"`
}

// FileStore keeps one <username>.session file per login in dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) Path(username string) string {
	return filepath.Join(s.dir, username+".session")
}

// Load reads the artifact for username. Missing, undecodable or foreign
// artifacts all report ErrNoSession.
func (s *FileStore) Load(username string) (*Session, error) {
	data, err := os.ReadFile(s.Path(username))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrNoSession, err)
	}
	if !strings.EqualFold(sess.Username, username) || len(sess.Cookies) == 0 {
		return nil, fmt.Errorf("%w: artifact does not match %s", ErrNoSession, username)
	}
	return &sess, nil
}

func (s *FileStore) Save(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	// Cookies are credentials.
	if err := file.WriteAtomic(s.Path(sess.Username), data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}
