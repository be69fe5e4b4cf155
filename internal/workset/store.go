package workset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"unitybatch/internal/atomicfile"
)

// Record is one module's persisted working-set classification.
type Record struct {
	// Module is the module name the record belongs to.
	Module string `json:"module"`

	// Files are the paths classified into the working set, sorted.
	Files []string `json:"files"`

	// Candidates are batched paths tracked for future invalidation, sorted.
	Candidates []string `json:"candidates"`
}

// Validate checks basic invariants.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Module) == "" {
		return errors.New("module is required")
	}
	if r.Files == nil {
		return errors.New("files must be an array (not null)")
	}
	if r.Candidates == nil {
		return errors.New("candidates must be an array (not null)")
	}
	return nil
}

// Store persists working-set records under:
//
//	<baseDir>/.unitybatch/workingset/<module>.json
//
// All writes are atomic and durable (file sync + atomic rename + dir sync) so
// a crash mid-build never leaves a torn record that would poison the next
// invocation's invalidation decisions.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) rootDir() string {
	return filepath.Join(s.baseDir, ".unitybatch", "workingset")
}

func (s *Store) recordPath(module string) string {
	return filepath.Join(s.rootDir(), module+".json")
}

// Save writes a module's record, normalizing nil slices to empty arrays.
func (s *Store) Save(record Record) error {
	if record.Files == nil {
		record.Files = []string{}
	}
	if record.Candidates == nil {
		record.Candidates = []string{}
	}
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if err := atomicfile.EnsureDirDurable(s.rootDir(), 0o755); err != nil {
		return fmt.Errorf("ensure workingset dir: %w", err)
	}
	data, err := jsonMarshalStable(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := atomicfile.WriteFileDurable(s.recordPath(record.Module), data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Load reads a module's record. A missing record is not an error: it returns
// an empty record for the module, since a module that was never batched has
// no classification yet.
func (s *Store) Load(module string) (Record, error) {
	if strings.TrimSpace(module) == "" {
		return Record{}, errors.New("module is required")
	}
	var record Record
	if err := readJSONStrict(s.recordPath(module), &record); err != nil {
		if os.IsNotExist(err) {
			return Record{Module: module, Files: []string{}, Candidates: []string{}}, nil
		}
		return Record{}, err
	}
	if err := record.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid record on disk: %w", err)
	}
	return record, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure no trailing junk.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}
