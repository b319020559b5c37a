// Package targets loads the list of channels to track from a CSV file.
package targets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
)

// Source returns the current desired targets. Each call re-reads the
// underlying configuration.
type Source interface {
	Load(ctx context.Context) ([]string, error)
}

// FileSource reads targets from the first column of a CSV file.
type FileSource struct {
	path string
	log  *slog.Logger
}

func NewFileSource(path string) *FileSource {
	return &FileSource{
		path: path,
		log:  slog.Default().With("component", "targets", "path", path),
	}
}

func (s *FileSource) Path() string {
	return s.path
}

// Load returns the targets in file order with duplicates removed. A missing
// file yields an empty list; rows that fail to parse are skipped.
func (s *FileSource) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Targets file not found, no channels will be tracked")
			return []string{}, nil
		}
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()

	targets, skipped, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	if skipped > 0 {
		s.log.Warn("Skipped malformed target rows", "rows", skipped)
	}
	s.log.Debug("Loaded targets", "count", len(targets))

	return targets, nil
}

// Parse reads CSV records from r and returns the trimmed, de-duplicated first
// column of every usable row along with the number of malformed rows skipped.
func Parse(r io.Reader) ([]string, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var (
		targets []string
		skipped int
		seen    = make(map[string]struct{})
	)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, skipped, err
		}
		if len(record) == 0 {
			continue
		}

		target := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
		if target == "" || strings.HasPrefix(target, "#") {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		targets = append(targets, target)
	}

	if targets == nil {
		targets = []string{}
	}

	return targets, skipped, nil
}
