package access

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"gopherai-analyst/internal/repository"
)

// FileLoader reads the reference tables from a YAML document:
//
//	users:
//	  alice@corp: 3
//	documents:
//	  - name: albujairy footfalls.xlsx
//	    tier: 3
type FileLoader struct {
	Path string
}

type fileTables struct {
	Users     map[string]int   `yaml:"users"`
	Documents []DocumentRecord `yaml:"documents"`
}

func (l FileLoader) Load(_ context.Context) (*Snapshot, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read rbac file failed: %w", err)
	}
	var tables fileTables
	if err := yaml.Unmarshal(raw, &tables); err != nil {
		return nil, fmt.Errorf("decode rbac file failed: %w", err)
	}
	return NewSnapshot(tables.Users, tables.Documents), nil
}

// GormLoader reads the reference tables from MySQL.
type GormLoader struct {
	repo *repository.AccessRepository
}

func NewGormLoader(repo *repository.AccessRepository) *GormLoader {
	return &GormLoader{repo: repo}
}

func (l *GormLoader) Load(ctx context.Context) (*Snapshot, error) {
	userRows, err := l.repo.ListUserTiers(ctx)
	if err != nil {
		return nil, err
	}
	docRows, err := l.repo.ListDocumentTiers(ctx)
	if err != nil {
		return nil, err
	}

	users := make(map[string]int, len(userRows))
	for _, row := range userRows {
		users[row.UserID] = row.Tier
	}
	docs := make([]DocumentRecord, 0, len(docRows))
	for _, row := range docRows {
		docs = append(docs, DocumentRecord{Name: row.Name, Tier: row.Tier})
	}
	return NewSnapshot(users, docs), nil
}
