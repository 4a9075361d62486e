package connector

import (
	"context"
	"os"
)

// FileSink appends each delivered payload, newline-terminated, to a
// local file (spec.md §3 Connector, ConnectorType "File"). Grounded on
// friggdb/backend/local's plain os.File append-with-O_APPEND idiom.
type FileSink struct {
	f *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Write(_ context.Context, payload []byte) error {
	if _, err := s.f.Write(payload); err != nil {
		return err
	}
	_, err := s.f.Write([]byte("\n"))
	return err
}

func (s *FileSink) Close() error { return s.f.Close() }
