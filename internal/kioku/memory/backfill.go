package memory

import (
	"context"
	"log/slog"
)

// MissingEmbeddingSource lists rows whose embedding column is still NULL,
// ordered by id and starting strictly after afterID.
type MissingEmbeddingSource interface {
	RowsMissingEmbedding(ctx context.Context, table string, afterID int64, limit int) ([]RowInserted, error)
}

// BackfillStats counts what a Backfill pass did.
type BackfillStats struct {
	Embedded int
	Skipped  int
	Failed   int
}

// Backfill re-offers every un-embedded row of the three tables to ix in
// batches of batchSize. Per-row failures are logged and counted; a failure
// to list rows aborts the pass. Rows the embedder declines (nil vector) are
// counted as skipped, so a noop provider terminates after one sweep.
func Backfill(ctx context.Context, src MissingEmbeddingSource, ix *Indexer, batchSize int, logger *slog.Logger) (BackfillStats, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	var stats BackfillStats
	for _, table := range []string{TableMessages, TableMemory, TableSummaries} {
		var after int64
		for {
			rows, err := src.RowsMissingEmbedding(ctx, table, after, batchSize)
			if err != nil {
				return stats, Persistence("list rows missing embedding", err)
			}
			for _, row := range rows {
				after = row.RecordID
				outcome, err := ix.OnRowInserted(ctx, row)
				switch {
				case err != nil:
					if ctx.Err() != nil {
						return stats, ctx.Err()
					}
					stats.Failed++
					logger.Warn("backfill: row failed", "table", table, "id", row.RecordID, "err", err)
				case outcome == IndexEmbedded:
					stats.Embedded++
				default:
					stats.Skipped++
				}
			}
			if len(rows) < batchSize {
				break
			}
		}
	}

	logger.Info("backfill complete",
		"embedded", stats.Embedded,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}
