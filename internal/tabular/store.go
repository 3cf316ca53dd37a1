package tabular

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrTableNotFound = errors.New("table not found")

// TableStore lists and reads whole datasets.
type TableStore interface {
	ListTables(ctx context.Context, prefix string) ([]string, error)
	ReadTable(ctx context.Context, name string) (*Table, error)
}

// DirStore serves .csv, .json and .jsonl files from one local directory.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) ListTables(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read table dir failed: %w", err)
	}
	seen := make(map[string]struct{})
	var names []string
	for _, e := range entries {
		if e.IsDir() || Format(e.Name()) == "" {
			continue
		}
		name := TableName(e.Name())
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirStore) ReadTable(_ context.Context, name string) (*Table, error) {
	for _, ext := range []string{".csv", ".json", ".jsonl"} {
		file := filepath.Join(s.dir, name+ext)
		f, err := os.Open(file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open table file failed: %w", err)
		}
		t, err := Decode(name, Format(file), f)
		_ = f.Close()
		return t, err
	}
	return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
}
