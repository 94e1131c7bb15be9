package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantnest/papervenue/internal/domain"
)

// Archiver moves aged rows out of the primary store into cold storage: it
// queries records older than the retention cutoff, serializes them to JSONL,
// uploads the file, and deletes the archived rows. Upload failures leave the
// primary rows untouched so the next run retries the same window.
type Archiver struct {
	writer domain.BlobWriter
	ticks  domain.TickStore
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(
	writer domain.BlobWriter,
	ticks domain.TickStore,
	trades domain.TradeStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer: writer,
		ticks:  ticks,
		trades: trades,
		audit:  audit,
		logger: logger.With("component", "archiver"),
	}
}

// Run archives ticks, trades and audit entries older than the cutoff. Each
// kind is archived independently; a failure in one does not block the others.
func (a *Archiver) Run(ctx context.Context, before time.Time) error {
	var firstErr error

	if n, err := a.ArchiveTicks(ctx, before); err != nil {
		a.logger.Error("archive ticks failed", "error", err)
		firstErr = err
	} else if n > 0 {
		a.logger.Info("archived ticks", "count", n, "before", before)
	}

	if n, err := a.ArchiveTrades(ctx, before); err != nil {
		a.logger.Error("archive trades failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	} else if n > 0 {
		a.logger.Info("archived trades", "count", n, "before", before)
	}

	if n, err := a.ArchiveAudit(ctx, before); err != nil {
		a.logger.Error("archive audit failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	} else if n > 0 {
		a.logger.Info("archived audit entries", "count", n, "before", before)
	}

	return firstErr
}

// ArchiveTicks uploads ticks older than the cutoff to
// archive/ticks/YYYY-MM-DD.jsonl and deletes them from the primary store.
func (a *Archiver) ArchiveTicks(ctx context.Context, before time.Time) (int64, error) {
	ticks, err := a.ticks.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks query: %w", err)
	}
	if len(ticks) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(ticks)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks marshal: %w", err)
	}

	if err := a.writer.Put(ctx, archivePath("ticks", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks upload: %w", err)
	}

	if _, err := a.ticks.DeleteBefore(ctx, before); err != nil {
		return 0, fmt.Errorf("s3blob: archive ticks delete: %w", err)
	}
	return int64(len(ticks)), nil
}

// ArchiveTrades uploads trades older than the cutoff to
// archive/trades/YYYY-MM-DD.jsonl and deletes them from the primary store.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	if err := a.writer.Put(ctx, archivePath("trades", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	if _, err := a.trades.DeleteBefore(ctx, before); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete: %w", err)
	}
	return int64(len(trades)), nil
}

// ArchiveAudit uploads audit entries older than the cutoff to
// archive/audit/YYYY-MM-DD.jsonl and deletes them from the primary store.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	if err := a.writer.Put(ctx, archivePath("audit", before), buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	if _, err := a.audit.DeleteBefore(ctx, before); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit delete: %w", err)
	}
	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the day
// of the cutoff time.
//
//	archive/ticks/2025-08-31.jsonl
//	archive/trades/2025-08-31.jsonl
//	archive/audit/2025-08-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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
