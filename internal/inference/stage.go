package inference

import (
	"os"
	"sync"
)

// Stage is a uniquely named temporary file holding a binary payload for the
// duration of a remote call. Close removes the file and is safe to call on
// every exit path, any number of times.
type Stage struct {
	path string

	mu     sync.Mutex
	closed bool
}

// NewStage spools payload into a fresh temporary file.
func NewStage(payload []byte) (*Stage, error) {
	f, err := os.CreateTemp("", "hairstyle-*.img")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, err
	}
	return &Stage{path: f.Name()}, nil
}

// Path returns the location of the staged payload.
func (s *Stage) Path() string {
	return s.path
}

// Bytes reads the staged payload back.
func (s *Stage) Bytes() ([]byte, error) {
	return os.ReadFile(s.path)
}

// Close removes the staged file.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return os.Remove(s.path)
}
