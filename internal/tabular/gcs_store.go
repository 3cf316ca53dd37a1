package tabular

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore serves tables stored as objects under a bucket prefix.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client failed: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: strings.TrimPrefix(prefix, "/")}, nil
}

func (s *GCSStore) ListTables(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})
	seen := make(map[string]struct{})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs objects failed: %w", err)
		}
		rel := strings.TrimPrefix(attrs.Name, s.prefix)
		if strings.Contains(rel, "/") || Format(rel) == "" {
			continue
		}
		name := TableName(rel)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *GCSStore) ReadTable(ctx context.Context, name string) (*Table, error) {
	bucket := s.client.Bucket(s.bucket)
	for _, ext := range []string{".csv", ".json", ".jsonl"} {
		object := s.prefix + name + ext
		r, err := bucket.Object(object).NewReader(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("open gcs object failed: %w", err)
		}
		t, err := Decode(name, Format(object), r)
		_ = r.Close()
		return t, err
	}
	return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
