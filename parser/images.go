package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// Placeholder returns the token that stands in for the n-th image.
func Placeholder(n int) string {
	return fmt.Sprintf("[IMAGE_%d]", n)
}

var placeholderPattern = regexp.MustCompile(`\[IMAGE_\d+\]`)

// FindPlaceholders returns the image placeholders in text, in order of
// first appearance and without repeats.
func FindPlaceholders(text string) []string {
	matches := placeholderPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	out := matches[:0]
	for _, m := range matches {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ImageMap is an insertion-ordered mapping from placeholder to image
// reference (hosted URL or local path).
type ImageMap struct {
	keys []string
	refs map[string]string
}

// NewImageMap returns an empty map.
func NewImageMap() *ImageMap {
	return &ImageMap{refs: make(map[string]string)}
}

// Add records ref under placeholder. Re-adding a placeholder replaces its
// reference but keeps its position.
func (m *ImageMap) Add(placeholder, ref string) {
	if m.refs == nil {
		m.refs = make(map[string]string)
	}
	if _, ok := m.refs[placeholder]; !ok {
		m.keys = append(m.keys, placeholder)
	}
	m.refs[placeholder] = ref
}

// Get returns the reference recorded for placeholder.
func (m *ImageMap) Get(placeholder string) (string, bool) {
	if m == nil {
		return "", false
	}
	ref, ok := m.refs[placeholder]
	return ref, ok
}

// Len returns the number of entries.
func (m *ImageMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Placeholders returns the keys in insertion order.
func (m *ImageMap) Placeholders() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *ImageMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Placeholders() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, k); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, m.refs[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (m *ImageMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("image map: expected object, got %v", tok)
	}

	m.keys = nil
	m.refs = make(map[string]string)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("image map: unexpected key %v", tok)
		}
		var ref string
		if err := dec.Decode(&ref); err != nil {
			return fmt.Errorf("image map: value for %s: %w", key, err)
		}
		m.Add(key, ref)
	}
	_, err = dec.Token()
	return err
}

// ImageMapPath returns the conventional location of a document's map.
func ImageMapPath(dir, base string) string {
	return filepath.Join(dir, base+"_image_map.json")
}

// SaveImageMap writes m to <dir>/<base>_image_map.json and returns the path.
func SaveImageMap(dir, base string, m *ImageMap) (string, error) {
	if m == nil {
		m = NewImageMap()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating image map dir: %w", err)
	}
	raw, err := m.MarshalJSON()
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return "", err
	}
	out.WriteByte('\n')

	path := ImageMapPath(dir, base)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing image map: %w", err)
	}
	return path, nil
}

// LoadImageMap reads <dir>/<base>_image_map.json. A missing file yields
// an empty map.
func LoadImageMap(dir, base string) (*ImageMap, error) {
	data, err := os.ReadFile(ImageMapPath(dir, base))
	if errors.Is(err, os.ErrNotExist) {
		return NewImageMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading image map: %w", err)
	}
	m := NewImageMap()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

// Uploader publishes a local image and returns its reference. An empty
// return means the upload failed.
type Uploader interface {
	Upload(ctx context.Context, localPath string) string
}

// ImageSink stores the images of one document. It numbers them
// document-wide, writes them under dir, uploads them and records the
// resulting references.
type ImageSink struct {
	dir      string
	uploader Uploader
	images   *ImageMap
}

// NewImageSink returns a sink writing to dir. A nil uploader keeps local
// paths as references.
func NewImageSink(dir string, up Uploader) *ImageSink {
	return &ImageSink{dir: dir, uploader: up, images: NewImageMap()}
}

// Next returns the number the next stored image will get.
func (s *ImageSink) Next() int {
	return s.images.Len() + 1
}

// Images returns the map built so far.
func (s *ImageSink) Images() *ImageMap {
	return s.images
}

// Add writes data to <dir>/<name>, uploads it and returns the new
// placeholder. The reference falls back to the local path when the upload
// fails.
func (s *ImageSink) Add(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating image dir: %w", err)
	}
	local := filepath.Join(s.dir, name)
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", fmt.Errorf("writing image %s: %w", name, err)
	}

	ref := local
	if s.uploader != nil {
		if url := s.uploader.Upload(ctx, local); url != "" {
			ref = url
		} else {
			slog.Debug("parser: upload failed, keeping local path", "path", local)
		}
	}

	ph := Placeholder(s.Next())
	s.images.Add(ph, ref)
	return ph, nil
}
