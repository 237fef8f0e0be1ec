package apiconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/router-for-me/gatewayconsole/internal/errs"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Load failures. All of them also match errs.ErrStorage.
var (
	ErrNotFound = fmt.Errorf("%w: config document not found", errs.ErrStorage)
	ErrParse    = fmt.Errorf("%w: config document is not well-formed yaml", errs.ErrStorage)
	ErrSchema   = fmt.Errorf("%w: config document has no api_keys sequence", errs.ErrStorage)
)

const defaultFileMode fs.FileMode = 0o644

// Store reads and writes the config document at a fixed path.
//
// Update serializes read-modify-write cycles within this process. Writers in
// other processes (a second console, a hand edit) are not coordinated with,
// so their changes can still be lost between a Load and the following Save.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store for the document at path.
func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load reads and decodes the document. Nothing is cached.
func (s *Store) Load() (*Document, error) {
	data, errRead := os.ReadFile(s.path)
	if errRead != nil {
		if errors.Is(errRead, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", errs.ErrStorage, s.path, errRead)
	}
	return Parse(data)
}

// Parse decodes a document, checking that api_keys is present and is a sequence.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if errUnmarshal := yaml.Unmarshal(data, &root); errUnmarshal != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, errUnmarshal)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, ErrSchema
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, ErrSchema
	}
	keys := mappingValue(top, "api_keys")
	if keys == nil || keys.Kind != yaml.SequenceNode {
		return nil, ErrSchema
	}

	var doc Document
	if errDecode := top.Decode(&doc); errDecode != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, errDecode)
	}
	return &doc, nil
}

// Marshal encodes doc with two-space indentation. Known fields keep their
// declared order; map keys are sorted.
func Marshal(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", errs.ErrStorage)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if errEncode := enc.Encode(doc); errEncode != nil {
		return nil, fmt.Errorf("%w: encode: %v", errs.ErrStorage, errEncode)
	}
	if errClose := enc.Close(); errClose != nil {
		return nil, fmt.Errorf("%w: encode: %v", errs.ErrStorage, errClose)
	}
	return buf.Bytes(), nil
}

// Save writes doc to a temporary file beside the target and renames it into
// place, keeping the existing file mode.
func (s *Store) Save(doc *Document) error {
	data, errMarshal := Marshal(doc)
	if errMarshal != nil {
		return errMarshal
	}

	mode := defaultFileMode
	if info, errStat := os.Stat(s.path); errStat == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(s.path)
	tmp, errCreate := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if errCreate != nil {
		return fmt.Errorf("%w: create temp file: %v", errs.ErrStorage, errCreate)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if committed {
			return
		}
		if errRemove := os.Remove(tmpPath); errRemove != nil && !errors.Is(errRemove, fs.ErrNotExist) {
			log.WithError(errRemove).Warn("apiconfig: remove temp file failed")
		}
	}()

	if _, errWrite := tmp.Write(data); errWrite != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write temp file: %v", errs.ErrStorage, errWrite)
	}
	if errSync := tmp.Sync(); errSync != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync temp file: %v", errs.ErrStorage, errSync)
	}
	if errClose := tmp.Close(); errClose != nil {
		return fmt.Errorf("%w: close temp file: %v", errs.ErrStorage, errClose)
	}
	if errChmod := os.Chmod(tmpPath, mode); errChmod != nil {
		return fmt.Errorf("%w: chmod temp file: %v", errs.ErrStorage, errChmod)
	}
	if errRename := os.Rename(tmpPath, s.path); errRename != nil {
		return fmt.Errorf("%w: replace %s: %v", errs.ErrStorage, s.path, errRename)
	}
	committed = true
	return nil
}

// Update loads the document, applies fn and saves the result. Nothing is
// written when fn returns an error. Calls on one Store never interleave.
func (s *Store) Update(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, errLoad := s.Load()
	if errLoad != nil {
		return errLoad
	}
	if errApply := fn(doc); errApply != nil {
		return errApply
	}
	return s.Save(doc)
}

// Create writes doc only when no document exists yet.
func (s *Store) Create(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, errStat := os.Stat(s.path); errStat == nil {
		return fmt.Errorf("%w: %s already exists", errs.ErrConflict, s.path)
	} else if !errors.Is(errStat, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", errs.ErrStorage, s.path, errStat)
	}
	if errMkdir := os.MkdirAll(filepath.Dir(s.path), 0o755); errMkdir != nil {
		return fmt.Errorf("%w: create config dir: %v", errs.ErrStorage, errMkdir)
	}
	return s.Save(doc)
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
