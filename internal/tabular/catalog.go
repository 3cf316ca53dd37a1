package tabular

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gopherai-analyst/internal/pkg/retry"
)

const (
	catalogKey        = "catalog"
	defaultSampleRows = 3
)

// Descriptor is the prompt-facing view of a table: its schema and a few
// sample rows. It is never used as a data source.
type Descriptor struct {
	Name    string
	Columns []Column
	Sample  []Row
}

// SchemaLine renders "name(col type, ...)".
func (d Descriptor) SchemaLine() string {
	cols := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		cols[i] = c.Name + " " + c.Type
	}
	return d.Name + "(" + strings.Join(cols, ", ") + ")"
}

func (d Descriptor) SampleText() string {
	if len(d.Sample) == 0 {
		return ""
	}
	header := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		header[i] = c.Name
	}
	rows := make([][]string, len(d.Sample))
	for i, r := range d.Sample {
		cells := make([]string, len(d.Columns))
		for j, c := range d.Columns {
			cells[j] = FormatValue(r[c.Name])
		}
		rows[i] = cells
	}
	return renderTable(header, rows)
}

// Catalog discovers table schemas once and keeps them until Reload.
type Catalog struct {
	store      TableStore
	prefix     string
	sampleRows int
	policy     retry.Policy
	logger     *zap.Logger

	cache *cache.Cache
	group singleflight.Group
}

func NewCatalog(store TableStore, prefix string, sampleRows int, policy retry.Policy, logger *zap.Logger) *Catalog {
	if sampleRows <= 0 {
		sampleRows = defaultSampleRows
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		store:      store,
		prefix:     prefix,
		sampleRows: sampleRows,
		policy:     policy,
		logger:     logger.Named("catalog"),
		cache:      cache.New(cache.NoExpiration, 0),
	}
}

// Describe returns every table's descriptor sorted by name.
func (c *Catalog) Describe(ctx context.Context) ([]Descriptor, error) {
	if cached, ok := c.cache.Get(catalogKey); ok {
		return cached.([]Descriptor), nil
	}
	v, err, _ := c.group.Do(catalogKey, func() (interface{}, error) {
		if cached, ok := c.cache.Get(catalogKey); ok {
			return cached, nil
		}
		descs, err := c.discover(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set(catalogKey, descs, cache.NoExpiration)
		return descs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Descriptor), nil
}

// Lookup returns the descriptor of one table.
func (c *Catalog) Lookup(ctx context.Context, name string) (Descriptor, bool, error) {
	descs, err := c.Describe(ctx)
	if err != nil {
		return Descriptor{}, false, err
	}
	for _, d := range descs {
		if d.Name == name {
			return d, true, nil
		}
	}
	return Descriptor{}, false, nil
}

// Reload drops the cached schemas; the next Describe rediscovers them.
func (c *Catalog) Reload() {
	c.cache.Flush()
	c.logger.Info("table catalog flushed")
}

func (c *Catalog) discover(ctx context.Context) ([]Descriptor, error) {
	names, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]string, error) {
		return c.store.ListTables(ctx, c.prefix)
	})
	if err != nil {
		return nil, fmt.Errorf("list tables failed: %w", err)
	}

	descs := make([]Descriptor, 0, len(names))
	for _, name := range names {
		t, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*Table, error) {
			return c.store.ReadTable(ctx, name)
		})
		if err != nil {
			c.logger.Warn("skip unreadable table", zap.String("table", name), zap.Error(err))
			continue
		}
		n := c.sampleRows
		if n > len(t.Rows) {
			n = len(t.Rows)
		}
		descs = append(descs, Descriptor{
			Name:    t.Name,
			Columns: t.Columns,
			Sample:  append([]Row(nil), t.Rows[:n]...),
		})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	c.logger.Info("table catalog discovered", zap.Int("tables", len(descs)))
	return descs, nil
}

// Index keys descriptors by table name.
func Index(descs []Descriptor) map[string]Descriptor {
	out := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		out[d.Name] = d
	}
	return out
}
