// Package access maps user identities and document or table names to access
// tiers. Lookups are pure functions over an immutable Snapshot that only
// changes through an explicit Reload.
package access

import (
	"context"
	"path"
	"strings"
	"sync/atomic"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

const (
	// FallbackTier restricts a caller to general-knowledge answers.
	FallbackTier = 0
	// DefaultTier applies to unknown users and unmatched documents.
	DefaultTier = 1

	DefaultSimilarityThreshold = 0.8

	fallbackIdentity = "0"
)

var knownExtensions = map[string]struct{}{
	".xlsx": {}, ".xls": {}, ".csv": {}, ".json": {}, ".jsonl": {},
	".pdf": {}, ".docx": {}, ".doc": {}, ".txt": {}, ".md": {}, ".pptx": {},
}

type DocumentRecord struct {
	Name string `yaml:"name" json:"name"`
	Tier int    `yaml:"tier" json:"tier"`
}

type catalogEntry struct {
	record     DocumentRecord
	normalized []string
}

// Snapshot is a loaded copy of the reference tables. It is never mutated
// after NewSnapshot returns.
type Snapshot struct {
	users     map[string]int
	documents []catalogEntry
}

func NewSnapshot(users map[string]int, documents []DocumentRecord) *Snapshot {
	s := &Snapshot{
		users:     make(map[string]int, len(users)),
		documents: make([]catalogEntry, 0, len(documents)),
	}
	for id, tier := range users {
		key := strings.ToLower(strings.TrimSpace(id))
		if key == "" {
			continue
		}
		s.users[key] = tier
	}
	for _, doc := range documents {
		normalized := Normalize(doc.Name)
		if normalized == "" {
			continue
		}
		s.documents = append(s.documents, catalogEntry{record: doc, normalized: runes(normalized)})
	}
	return s
}

func (s *Snapshot) UserCount() int     { return len(s.users) }
func (s *Snapshot) DocumentCount() int { return len(s.documents) }

// Loader fetches the reference tables.
type Loader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

type Resolver struct {
	loader    Loader
	threshold float64
	snapshot  atomic.Pointer[Snapshot]
	logger    *zap.Logger
}

func NewResolver(loader Loader, threshold float64, logger *zap.Logger) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		loader:    loader,
		threshold: threshold,
		logger:    logger.Named("access"),
	}
	r.snapshot.Store(NewSnapshot(nil, nil))
	return r
}

// NewStaticResolver serves a fixed snapshot; Reload is a no-op.
func NewStaticResolver(snapshot *Snapshot, threshold float64) *Resolver {
	r := NewResolver(nil, threshold, nil)
	if snapshot != nil {
		r.snapshot.Store(snapshot)
	}
	return r
}

// Reload replaces the snapshot. On failure the previous snapshot keeps
// serving; before the first successful load every lookup resolves to
// DefaultTier.
func (r *Resolver) Reload(ctx context.Context) error {
	if r.loader == nil {
		return nil
	}
	snapshot, err := r.loader.Load(ctx)
	if err != nil {
		r.logger.Warn("rbac reload failed, keeping previous snapshot", zap.Error(err))
		return err
	}
	r.snapshot.Store(snapshot)
	r.logger.Info("rbac snapshot loaded",
		zap.Int("users", snapshot.UserCount()),
		zap.Int("documents", snapshot.DocumentCount()),
	)
	return nil
}

func (r *Resolver) Threshold() float64 { return r.threshold }

func (r *Resolver) ResolveUserTier(userID string) int {
	key := strings.ToLower(strings.TrimSpace(userID))
	if key == fallbackIdentity {
		return FallbackTier
	}
	if tier, ok := r.snapshot.Load().users[key]; ok {
		return tier
	}
	return DefaultTier
}

func (r *Resolver) ResolveDocumentTier(name string) int {
	record, _, ok := r.Match(name)
	if !ok {
		return DefaultTier
	}
	return record.Tier
}

// Match returns the best catalog record for name and its similarity. ok is
// false when the best similarity is below the threshold.
func (r *Resolver) Match(name string) (DocumentRecord, float64, bool) {
	normalized := Normalize(name)
	if normalized == "" {
		return DocumentRecord{}, 0, false
	}
	query := runes(normalized)

	var (
		best      DocumentRecord
		bestScore float64
	)
	for _, entry := range r.snapshot.Load().documents {
		score := ratio(query, entry.normalized)
		if score > bestScore {
			best, bestScore = entry.record, score
		}
	}
	if bestScore < r.threshold {
		return DocumentRecord{}, bestScore, false
	}
	return best, bestScore, true
}

func (r *Resolver) CanView(userTier int, name string) bool {
	return userTier >= r.ResolveDocumentTier(name)
}

// Normalize case-folds name, drops any directory part and strips a known
// file extension.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = path.Base(strings.ReplaceAll(n, "\\", "/"))
	if n == "." || n == "/" {
		return ""
	}
	if ext := path.Ext(n); ext != "" {
		if _, ok := knownExtensions[ext]; ok {
			n = strings.TrimSuffix(n, ext)
		}
	}
	return strings.TrimSpace(n)
}

// Similarity is the Ratcliff/Obershelp ratio (2*M/T) of the normalized names.
func Similarity(a, b string) float64 {
	return ratio(runes(Normalize(a)), runes(Normalize(b)))
}

func ratio(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	return difflib.NewMatcher(a, b).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
