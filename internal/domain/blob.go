package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Dossier is the settlement bundle handed to document rendering.
type Dossier struct {
	Trade       Trade                 `json:"trade"`
	Events      []TradeEvent          `json:"events"`
	Quotes      []Quote               `json:"quotes"`
	Consensus   *ConsensusStatus      `json:"consensus,omitempty"`
	Trust       map[string]TrustScore `json:"trust"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// DossierPath is the object key a trade's dossier is written to.
func DossierPath(tradeID string) string {
	return "dossiers/" + tradeID + ".json"
}
