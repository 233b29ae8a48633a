// Package file provides a core.LedgerStore keeping one JSON or YAML document
// per ledger key in a directory.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/policymesh/core"
)

// Format selects the document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const filePrefix = "ledger-"

// document is the on-disk representation of one ledger.
type document struct {
	Key   string      `json:"key" yaml:"key"`
	Steps []core.Step `json:"steps" yaml:"steps"`
}

// Options configures a Store.
type Options struct {
	// Format of the documents. Defaults to FormatJSON.
	Format Format
	// Perm is the mode of created files. Defaults to 0o600.
	Perm fs.FileMode
}

// Store is a LedgerStore writing each ledger to its own file. Saves are
// atomic: documents are written to a temporary file and renamed into place.
type Store struct {
	dir  string
	opts Options
	mu   sync.RWMutex
}

var _ core.LedgerStore = (*Store)(nil)

// New returns a store rooted at dir, creating it when missing.
func New(dir string, optFns ...func(o *Options)) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage directory is required")
	}

	opts := Options{
		Format: FormatJSON,
		Perm:   0o600,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	switch opts.Format {
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported ledger format %q", opts.Format)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &Store{dir: filepath.Clean(dir), opts: opts}, nil
}

// Load returns the ledger stored under key, or an empty ledger.
func (s *Store) Load(ctx context.Context, key string) (core.Ledger, error) {
	if err := ctx.Err(); err != nil {
		return core.Ledger{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return core.Ledger{}, nil
	}
	if err != nil {
		return core.Ledger{}, fmt.Errorf("read ledger %q: %w", key, err)
	}

	var doc document
	if err := s.unmarshal(data, &doc); err != nil {
		return core.Ledger{}, fmt.Errorf("decode ledger %q: %w", key, err)
	}

	return core.NewLedger(doc.Steps...)
}

// Save replaces the ledger stored under key.
func (s *Store) Save(ctx context.Context, key string, l core.Ledger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.marshal(document{Key: key, Steps: l.Steps()})
	if err != nil {
		return fmt.Errorf("encode ledger %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ledger %q: %w", key, err)
	}

	if err := tmp.Chmod(s.opts.Perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod ledger %q: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger %q: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("rename ledger %q: %w", key, err)
	}

	return nil
}

// Delete removes the ledger stored under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete ledger %q: %w", key, err)
	}

	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}

	ext := "." + string(s.opts.Format)

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ext) {
			continue
		}

		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ext))
		if err != nil {
			continue
		}
		keys = append(keys, string(raw))
	}
	sort.Strings(keys)

	return keys, nil
}

// path maps a key to a file name. Keys contain scope separators, so they are
// encoded rather than used as paths.
func (s *Store) path(key string) string {
	return filepath.Join(s.dir, filePrefix+base64.RawURLEncoding.EncodeToString([]byte(key))+"."+string(s.opts.Format))
}

func (s *Store) marshal(doc document) ([]byte, error) {
	if s.opts.Format == FormatYAML {
		return yaml.Marshal(doc)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func (s *Store) unmarshal(data []byte, doc *document) error {
	if s.opts.Format == FormatYAML {
		return yaml.Unmarshal(data, doc)
	}
	return json.Unmarshal(data, doc)
}
