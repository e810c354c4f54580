package chunker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFile writes one chunk per line. Line breaks inside a chunk are
// flattened to spaces and blank chunks are skipped.
func WriteFile(path string, chunks []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating chunk dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, ch := range chunks {
		line := strings.TrimSpace(strings.ReplaceAll(ch, "\n", " "))
		if line == "" {
			continue
		}
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads a file written by WriteFile.
func ReadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chunks []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks, nil
}
