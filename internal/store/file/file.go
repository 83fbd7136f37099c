package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"keepalive_engine/internal/model"
	"keepalive_engine/internal/store"
)

type format int

const (
	formatJSON format = iota
	formatYAML
)

// Store keeps the document in a single JSON or YAML file, chosen by extension.
// Writes go to a temp file in the same directory and are renamed over the target,
// so a crash mid-write leaves the previous document intact.
type Store struct {
	path   string
	format format
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file store: path is required")
	}
	s := &Store{path: path, format: formatJSON}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s.format = formatYAML
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(_ context.Context) (model.Document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.Document{}, store.ErrNotFound
		}
		return model.Document{}, err
	}
	var (
		doc     model.Document
		present map[string]bool
	)
	switch s.format {
	case formatYAML:
		err = yaml.Unmarshal(b, &doc)
		if err == nil {
			present, err = yamlSections(b)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		err = dec.Decode(&doc)
		if err == nil {
			present, err = jsonSections(b)
		}
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	for _, key := range requiredSections {
		if !present[key] {
			return model.Document{}, fmt.Errorf("%s: %w: %s", s.path, store.ErrMissingSection, key)
		}
	}
	return doc, nil
}

// requiredSections must be present and non-null in a persisted document.
var requiredSections = []string{"settings", "schedule"}

func jsonSections(b []byte) (map[string]bool, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		out[k] = !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
	}
	return out, nil
}

func yamlSections(b []byte) (map[string]bool, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(raw))
	for k, v := range raw {
		out[k] = v.ShortTag() != "!!null"
	}
	return out, nil
}

func (s *Store) Save(_ context.Context, doc model.Document) error {
	if doc.Accounts == nil {
		doc.Accounts = []model.Account{}
	}
	var (
		b   []byte
		err error
	)
	switch s.format {
	case formatYAML:
		b, err = yaml.Marshal(doc)
	default:
		b, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }
