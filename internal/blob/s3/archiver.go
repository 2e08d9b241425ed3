package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// DefaultMultipartThreshold is the payload size above which archives are
	// uploaded in parts.
	DefaultMultipartThreshold = 16 << 20
	defaultPartSize           = 8 << 20
)

// ArchiveImpl implements domain.Archiver. It reads settled history from an
// ArchiveSource, serializes it to JSONL and uploads one object per kind and
// cutoff day. Archived rows stay in the primary store.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	src       domain.ArchiveSource
	audit     domain.AuditStore
	threshold int
}

// NewArchiver creates an ArchiveImpl. reader and audit may be nil; without a
// reader existing objects are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	src domain.ArchiveSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		src:       src,
		audit:     audit,
		threshold: DefaultMultipartThreshold,
	}
}

// SetMultipartThreshold changes the size above which PutMultipart is used.
func (a *ArchiveImpl) SetMultipartThreshold(n int) { a.threshold = n }

// ArchiveTransfers uploads every transfer committed before the cutoff to
// archive/transfers/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, "transfers", before, a.src.ListTransfersBefore)
}

// ArchiveInteractions uploads every market interaction recorded before the
// cutoff to archive/interactions/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchiveInteractions(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, "interactions", before, a.src.ListInteractionsBefore)
}

// ArchiveCasinoTrades uploads every casino trade settled before the cutoff
// to archive/casino_trades/YYYY-MM-DD.jsonl.
func (a *ArchiveImpl) ArchiveCasinoTrades(ctx context.Context, before time.Time) (int64, error) {
	return archiveKind(ctx, a, "casino_trades", before, a.src.ListSettledTradesBefore)
}

// archiveKind runs one archive pass. An object already stored for the same
// kind and cutoff is left untouched and reported as zero records.
func archiveKind[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	before time.Time,
	list func(context.Context, time.Time) ([]T, error),
) (int64, error) {
	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s exists: %w", kind, err)
		}
		if exists {
			return 0, nil
		}
	}

	records, err := list(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if len(buf) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), defaultPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit == nil {
		return count, nil
	}
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// UTC day of the cutoff.
//
//	archive/transfers/2025-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
