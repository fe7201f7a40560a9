package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

const (
	FileFormatJSON = "json"
	FileFormatText = "text"
)

// FileSink appends listings to a local file. The json format keeps the file
// a single JSON array; the text format appends human-readable blocks.
type FileSink struct {
	mu     sync.Mutex
	path   string
	format string
}

func NewFileSink(path, format string) *FileSink {
	if format != FileFormatText {
		format = FileFormatJSON
	}
	return &FileSink{path: path, format: format}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Deliver(ctx context.Context, l domain.ListingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("file: create dir: %w", err)
	}
	if s.format == FileFormatText {
		return s.appendText(l)
	}
	return s.appendJSON(l)
}

func (s *FileSink) appendText(l domain.ListingRecord) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file: open: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatDetailed(l)); err != nil {
		return fmt.Errorf("file: write: %w", err)
	}
	return nil
}

func (s *FileSink) appendJSON(l domain.ListingRecord) error {
	var entries []Payload
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("file: read: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("file: existing file is not a JSON array: %w", err)
		}
	}

	entries = append(entries, NewPayload(l))
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("file: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("file: rename: %w", err)
	}
	return nil
}
