package access

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return NewSnapshot(
		map[string]int{"Alice@Corp": 3, "bob": 2},
		[]DocumentRecord{
			{Name: "albujairy footfalls.xlsx", Tier: 3},
			{Name: "Customer Complaints Policy.pdf", Tier: 1},
			{Name: "Board Minutes 2023.docx", Tier: 4},
		},
	)
}

func TestResolveUserTier(t *testing.T) {
	r := NewStaticResolver(testSnapshot(), 0.8)

	tests := []struct {
		user string
		want int
	}{
		{"alice@corp", 3},
		{"  ALICE@CORP ", 3},
		{"bob", 2},
		{"0", FallbackTier},
		{"stranger", DefaultTier},
		{"", DefaultTier},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ResolveUserTier(tt.user))
		})
	}
}

func TestSimilarityExamples(t *testing.T) {
	assert.GreaterOrEqual(t, Similarity("Al-Bujairy Terrace Footfalls", "albujairy footfalls.xlsx"), 0.8)
	assert.Less(t, Similarity("Unrelated Name", "albujairy footfalls.xlsx"), 0.8)
	assert.Equal(t, 1.0, Similarity("Sites.CSV", "sites"))
}

func TestResolveDocumentTierFuzzy(t *testing.T) {
	r := NewStaticResolver(testSnapshot(), 0.8)

	assert.Equal(t, 3, r.ResolveDocumentTier("Al-Bujairy Terrace Footfalls"))
	assert.Equal(t, 3, r.ResolveDocumentTier("reports/albujairy footfalls.csv"))
	assert.Equal(t, 4, r.ResolveDocumentTier("board minutes 2023"))
	assert.Equal(t, DefaultTier, r.ResolveDocumentTier("Unrelated Name"))
	assert.Equal(t, DefaultTier, r.ResolveDocumentTier(""))
}

func TestThresholdIsConfigurable(t *testing.T) {
	strict := NewStaticResolver(testSnapshot(), 0.95)
	assert.Equal(t, DefaultTier, strict.ResolveDocumentTier("Al-Bujairy Terrace Footfalls"))

	loose := NewStaticResolver(testSnapshot(), 0.5)
	assert.Equal(t, 0.5, loose.Threshold())
}

func TestCanView(t *testing.T) {
	r := NewStaticResolver(testSnapshot(), 0.8)
	assert.False(t, r.CanView(1, "albujairy footfalls"))
	assert.True(t, r.CanView(3, "albujairy footfalls"))
	assert.True(t, r.CanView(1, "something new"))
	assert.False(t, r.CanView(FallbackTier, "something new"))
}

type failingLoader struct{}

func (failingLoader) Load(context.Context) (*Snapshot, error) {
	return nil, errors.New("table unavailable")
}

func TestReloadFailureFailsOpen(t *testing.T) {
	r := NewResolver(failingLoader{}, 0.8, nil)
	require.Error(t, r.Reload(context.Background()))

	assert.Equal(t, DefaultTier, r.ResolveUserTier("alice@corp"))
	assert.Equal(t, DefaultTier, r.ResolveDocumentTier("albujairy footfalls"))
}

type swapLoader struct{ snapshot *Snapshot }

func (l *swapLoader) Load(context.Context) (*Snapshot, error) { return l.snapshot, nil }

func TestReloadSwapsSnapshot(t *testing.T) {
	loader := &swapLoader{snapshot: testSnapshot()}
	r := NewResolver(loader, 0.8, nil)
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, 3, r.ResolveUserTier("alice@corp"))

	loader.snapshot = NewSnapshot(map[string]int{"alice@corp": 5}, nil)
	assert.Equal(t, 3, r.ResolveUserTier("alice@corp"), "lookups must not see new data before reload")

	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, 5, r.ResolveUserTier("alice@corp"))
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rbac.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
users:
  alice@corp: 3
documents:
  - name: albujairy footfalls.xlsx
    tier: 3
`), 0o600))

	r := NewResolver(FileLoader{Path: file}, 0.8, nil)
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, 3, r.ResolveUserTier("alice@corp"))
	assert.Equal(t, 3, r.ResolveDocumentTier("AlBujairy Footfalls"))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "albujairy footfalls", Normalize(" AlBujairy Footfalls.XLSX "))
	assert.Equal(t, "notes.v2", Normalize("notes.v2"))
	assert.Equal(t, "report", Normalize(`c:\share\Report.pdf`))
}
