// Package envfile reads and updates the persisted deployment configuration document.
package envfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/fgeck/cloud-dbops/internal/merge"
	"github.com/fgeck/cloud-dbops/internal/models"
	"gopkg.in/yaml.v3"
)

// Store reads and writes the persisted configuration file.
type Store interface {
	Read() (map[string]any, error)
	DB() (map[string]any, error)
	UpdateSections(sections map[string]any) error
}

// File is a YAML-backed Store. Updates rewrite only the bytes of the named top-level
// keys; every other byte of the document is kept.
type File struct {
	path string
}

// New creates a store for the file at path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Read returns the whole document. A missing or empty file reads as an empty document.
func (f *File) Read() (map[string]any, error) {
	raw, err := f.readRaw()
	if err != nil {
		return nil, err
	}

	doc := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return doc, nil
}

// DB returns the database section of the document.
func (f *File) DB() (map[string]any, error) {
	doc, err := f.Read()
	if err != nil {
		return nil, err
	}
	db, ok := merge.AsMap(doc[models.KeyDB])
	if !ok {
		return map[string]any{}, nil
	}
	return db, nil
}

// UpdateSections replaces (or appends) the given top-level keys and writes the file.
func (f *File) UpdateSections(sections map[string]any) error {
	raw, err := f.readRaw()
	if err != nil {
		return err
	}

	root, err := mappingRoot(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", f.path, err)
	}

	out, ok, err := splice(raw, root, sections)
	if err != nil {
		return err
	}
	if !ok {
		if out, err = encodeTree(root, sections); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

func (f *File) readRaw() ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	return raw, nil
}

// mappingRoot returns the top-level mapping node of raw, creating one for empty input.
func mappingRoot(raw []byte) (*yaml.Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level is not a mapping")
	}
	return root, nil
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

// splice replaces the top-level entries named in sections inside raw and appends the
// missing ones. It reports false when raw is not a plain block mapping.
func splice(raw []byte, root *yaml.Node, sections map[string]any) ([]byte, bool, error) {
	spans, ok := entrySpans(raw, root)
	if !ok {
		return nil, false, nil
	}

	var out bytes.Buffer
	pos := 0
	done := map[string]bool{}
	for _, sp := range spans {
		value, replace := sections[sp.key]
		if !replace || done[sp.key] {
			continue
		}
		entry, err := encodeEntry(sp.key, value)
		if err != nil {
			return nil, false, err
		}
		out.Write(raw[pos:sp.start])
		out.Write(entry)
		pos = sp.end
		done[sp.key] = true
	}
	out.Write(raw[pos:])

	for _, key := range slices.Sorted(maps.Keys(sections)) {
		if done[key] {
			continue
		}
		entry, err := encodeEntry(key, sections[key])
		if err != nil {
			return nil, false, err
		}
		if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
			out.WriteByte('\n')
		}
		out.Write(entry)
	}
	return out.Bytes(), true, nil
}

type span struct {
	key        string
	start, end int
}

// entrySpans returns the byte range of every top-level entry, in document order. A range
// starts at the key's line and stops before the next key, leaving out the blank lines,
// column-0 comments and document markers in between.
func entrySpans(raw []byte, root *yaml.Node) ([]span, bool) {
	if root.Style&yaml.FlowStyle != 0 {
		return nil, false
	}
	starts := lineStarts(raw)
	lineEnd := func(n int) int {
		if n < len(starts) {
			return starts[n]
		}
		return len(raw)
	}

	var spans []span
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if key.Column != 1 || key.Line < 1 || key.Line > len(starts) {
			return nil, false
		}
		last := len(starts)
		if i+2 < len(root.Content) {
			next := root.Content[i+2]
			if next.Line <= key.Line || next.Line > len(starts) {
				return nil, false
			}
			last = next.Line - 1
		}
		for last > key.Line && isFiller(raw[starts[last-1]:lineEnd(last)]) {
			last--
		}
		spans = append(spans, span{key: key.Value, start: starts[key.Line-1], end: lineEnd(last)})
	}
	return spans, true
}

func lineStarts(raw []byte) []int {
	if len(raw) == 0 {
		return nil
	}
	starts := []int{0}
	for i, c := range raw {
		if c == '\n' && i+1 < len(raw) {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func isFiller(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	return len(trimmed) == 0 ||
		line[0] == '#' ||
		bytes.HasPrefix(line, []byte("---")) ||
		bytes.HasPrefix(line, []byte("..."))
}

func encodeEntry(key string, value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{key: value}); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// encodeTree re-encodes the whole document. Used for flow-style top-level mappings.
func encodeTree(root *yaml.Node, sections map[string]any) ([]byte, error) {
	for _, key := range slices.Sorted(maps.Keys(sections)) {
		var value yaml.Node
		if err := value.Encode(sections[key]); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", key, err)
		}
		setKey(root, key, &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}
