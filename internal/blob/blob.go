// Package blob stores raw filing documents under deterministic keys so
// downloads are idempotent: re-running a download overwrites the same object.
package blob

import (
	"context"
	"fmt"
)

// Key returns the deterministic object key for a filing document:
// raw/{cik}/{accession}.{ext}.
func Key(cik, accession, ext string) string {
	return fmt.Sprintf("raw/%s/%s.%s", cik, accession, ext)
}

// Store is the content store for raw filing documents.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}
