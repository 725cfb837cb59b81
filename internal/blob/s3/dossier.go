package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// multipartThreshold switches dossier uploads to the multipart manager.
const multipartThreshold = 8 << 20

// DossierArchive writes settlement dossiers as JSON objects under
// dossiers/ and reads them back.
type DossierArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewDossierArchive creates a DossierArchive. reader may be nil when only
// exports are needed.
func NewDossierArchive(w domain.BlobWriter, r domain.BlobReader, logger *slog.Logger) *DossierArchive {
	return &DossierArchive{writer: w, reader: r, logger: logger.With(slog.String("component", "dossier_archive"))}
}

// WriteDossier uploads d to its DossierPath and returns the path.
func (a *DossierArchive) WriteDossier(ctx context.Context, d domain.Dossier) (string, error) {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal dossier %s: %w", d.Trade.ID, err)
	}
	path := domain.DossierPath(d.Trade.ID)
	if len(data) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", err
	}
	a.logger.InfoContext(ctx, "dossier stored",
		slog.String("trade_id", d.Trade.ID),
		slog.String("path", path),
		slog.Int("bytes", len(data)),
	)
	return path, nil
}

// ReadDossier loads a previously exported dossier.
func (a *DossierArchive) ReadDossier(ctx context.Context, tradeID string) (domain.Dossier, error) {
	if a.reader == nil {
		return domain.Dossier{}, fmt.Errorf("s3blob: dossier %s: %w", tradeID, domain.ErrNotFound)
	}
	body, err := a.reader.Get(ctx, domain.DossierPath(tradeID))
	if err != nil {
		return domain.Dossier{}, err
	}
	defer body.Close()

	var d domain.Dossier
	if err := json.NewDecoder(body).Decode(&d); err != nil {
		return domain.Dossier{}, fmt.Errorf("s3blob: decode dossier %s: %w", tradeID, err)
	}
	return d, nil
}

// DossierExists reports whether tradeID's dossier has been written.
func (a *DossierArchive) DossierExists(ctx context.Context, tradeID string) (bool, error) {
	if a.reader == nil {
		return false, nil
	}
	return a.reader.Exists(ctx, domain.DossierPath(tradeID))
}

// ListDossiers returns the stored dossier objects.
func (a *DossierArchive) ListDossiers(ctx context.Context) ([]domain.BlobInfo, error) {
	if a.reader == nil {
		return nil, nil
	}
	return a.reader.List(ctx, "dossiers/")
}
