package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jszwec/csvutil"
)

// ExportService writes the whole catalog as CSV to object storage
type ExportService struct {
	store    CatalogStore
	uploader Uploader
	now      func() time.Time
}

func NewExportService(store CatalogStore, uploader Uploader) *ExportService {
	return &ExportService{store: store, uploader: uploader, now: time.Now}
}

// Export uploads the catalog and returns the object key
func (s *ExportService) Export(ctx context.Context) (string, error) {
	lots, err := s.store.AllLots(ctx)
	if err != nil {
		return "", fmt.Errorf("load catalog: %w", err)
	}
	if len(lots) == 0 {
		return "", fmt.Errorf("catalog is empty")
	}

	data, err := csvutil.Marshal(lots)
	if err != nil {
		return "", fmt.Errorf("encode csv: %w", err)
	}

	key := ExportKey(s.now(), uuid.NewString())
	if err := s.uploader.Upload(ctx, key, bytes.NewReader(data), "text/csv; charset=utf-8"); err != nil {
		return "", err
	}
	return key, nil
}

func ExportKey(at time.Time, id string) string {
	return fmt.Sprintf("exports/%s/%s.csv", at.UTC().Format("2006-01-02"), id)
}
