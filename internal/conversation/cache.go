package conversation

import (
	"strings"

	"github.com/patrickmn/go-cache"
)

// Entry is the memoized result of one pipeline run. Fields are plain text so
// the cache holds no references into the tools that produced them.
type Entry struct {
	RetrievalText  string
	AnalysisCode   string
	AnalysisOutput string
	Body           string
	Source         string
	Text           string
}

// NormalizeKey case-folds and trims a question. Matching is exact on the result.
func NormalizeKey(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

// Cache maps normalized questions to entries. Entries do not expire; an
// entry is never replaced once written and only Clear removes entries.
type Cache struct {
	items *cache.Cache
}

func NewCache() *Cache {
	return &Cache{items: cache.New(cache.NoExpiration, 0)}
}

func (c *Cache) Get(question string) (Entry, bool) {
	key := NormalizeKey(question)
	if key == "" {
		return Entry{}, false
	}
	v, ok := c.items.Get(key)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Put stores e under question and reports whether it was written.
func (c *Cache) Put(question string, e Entry) bool {
	key := NormalizeKey(question)
	if key == "" {
		return false
	}
	return c.items.Add(key, e, cache.NoExpiration) == nil
}

func (c *Cache) Clear() {
	c.items.Flush()
}

func (c *Cache) Len() int {
	return c.items.ItemCount()
}
