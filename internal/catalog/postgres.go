package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	selectTierRecord = `SELECT record::text FROM product_variant_tiers WHERE variant_id = $1`
	upsertTierRecord = `INSERT INTO product_variant_tiers (variant_id, record, updated_at)
VALUES ($1, $2::jsonb, now())
ON CONFLICT (variant_id) DO UPDATE SET record = EXCLUDED.record, updated_at = now()`
)

// rowQuerier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGSource reads tier records kept by the metadata sync process in Postgres.
type PGSource struct {
	DB rowQuerier
}

// TierRecord implements Source.
func (s PGSource) TierRecord(ctx context.Context, variantID string) (string, bool, error) {
	if s.DB == nil {
		return "", false, nil
	}
	id := strings.TrimSpace(variantID)
	if id == "" {
		return "", false, nil
	}
	var record *string
	if err := s.DB.QueryRow(ctx, selectTierRecord, id).Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if record == nil {
		return "", false, nil
	}
	return *record, true, nil
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// UpsertRecords stores records keyed by variant ID in one batch, in ID order.
func UpsertRecords(ctx context.Context, db batchSender, records map[string]string) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(upsertTierRecord, id, records[id])
	}
	results := db.SendBatch(ctx, batch)
	for _, id := range ids {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert tier record %s: %w", id, err)
		}
	}
	return results.Close()
}
