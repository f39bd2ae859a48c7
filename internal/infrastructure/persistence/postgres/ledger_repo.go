// Package postgres implements the indexer-backed ledger.
package postgres

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/sha3"

	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/progress"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// INDEXER LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// IndexerLedger answers license, progress and catalog queries from the local
// indexer mirror. Completion writes update the mirror and enqueue an outbox
// row in one transaction; the relayer's confirmation later replaces the
// surrogate tx hash.
type IndexerLedger struct {
	conn    *Connection
	retrier *retry.Retrier
	logger  *slog.Logger
}

var (
	_ license.Querier = (*IndexerLedger)(nil)
	_ progress.Ledger = (*IndexerLedger)(nil)
	_ content.Catalog = (*IndexerLedger)(nil)
)

// NewIndexerLedger creates an IndexerLedger over the connection.
func NewIndexerLedger(conn *Connection, logger *slog.Logger) *IndexerLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexerLedger{
		conn:    conn,
		retrier: retry.DatabaseRetrier(),
		logger:  logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LICENSE QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// QueryLicense reads the mirrored license row for (principal, courseID).
func (r *IndexerLedger) QueryLicense(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*license.License, error) {
	const query = `
		SELECT active, valid_until
		FROM licenses
		WHERE principal = $1 AND course_id = $2`

	var lic license.License
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		row := r.conn.QueryRow(ctx, query, principal.String(), courseID.String())
		if err := row.Scan(&lic.Active, &lic.ValidUntil); err != nil {
			if IsNoRows(err) {
				return retry.Permanent(shared.ErrLicenseNotFound)
			}
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrLicenseNotFound
		}
		return nil, shared.WrapError("ledger", "QueryLicense", shared.ErrTransport, "indexer query failed", err)
	}

	lic.Principal = principal
	lic.CourseID = courseID
	return &lic, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS QUERIES AND WRITES
// ══════════════════════════════════════════════════════════════════════════════

// QueryProgress assembles the completion record from the mirror. A pair with
// no confirmed completions reads as not found; the store substitutes the lazy
// all-incomplete default.
func (r *IndexerLedger) QueryProgress(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (*progress.Record, error) {
	var (
		totalUnits int
		completed  []int
	)

	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		row := r.conn.QueryRow(ctx,
			`SELECT total_units FROM courses WHERE id = $1`, courseID.String())
		if err := row.Scan(&totalUnits); err != nil {
			if IsNoRows(err) {
				return retry.Permanent(shared.ErrProgressNotFound)
			}
			return retry.Retryable(err)
		}

		rows, err := r.conn.Query(ctx,
			`SELECT unit_index FROM unit_completions
			 WHERE principal = $1 AND course_id = $2
			 ORDER BY unit_index`,
			principal.String(), courseID.String())
		if err != nil {
			return retry.Retryable(err)
		}
		defer rows.Close()

		completed = completed[:0]
		for rows.Next() {
			var idx int
			if err := rows.Scan(&idx); err != nil {
				return retry.Retryable(err)
			}
			completed = append(completed, idx)
		}
		return rows.Err()
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, shared.WrapError("ledger", "QueryProgress", shared.ErrTransport, "indexer query failed", err)
	}

	if len(completed) == 0 {
		return nil, shared.ErrProgressNotFound
	}

	rec := progress.NewRecord(principal, courseID, totalUnits)
	for _, idx := range completed {
		if idx >= 0 && idx < totalUnits {
			rec.CompletedUnits[idx] = true
		}
	}
	return &rec, nil
}

// WriteCompletion records a completion in the mirror and enqueues the chain
// transaction in the outbox, atomically. Replays hit the idempotency key and
// return the original receipt.
func (r *IndexerLedger) WriteCompletion(ctx context.Context, principal shared.Principal, courseID shared.CourseID, unitIndex int) (*progress.Receipt, error) {
	key := completionKey(principal, courseID, unitIndex)
	receiptID := uuid.New().String()
	surrogate := "0x" + key
	now := time.Now().UTC()

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO unit_completions (principal, course_id, unit_index, tx_hash, confirmed_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (principal, course_id, unit_index) DO NOTHING`,
			principal.String(), courseID.String(), unitIndex, surrogate, now,
		); err != nil {
			return fmt.Errorf("insert completion: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO completion_outbox (id, principal, course_id, unit_index, idempotency_key, surrogate_tx_hash, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (idempotency_key) DO NOTHING`,
			receiptID, principal.String(), courseID.String(), unitIndex, key, surrogate, now,
		); err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, shared.WrapError("ledger", "WriteCompletion", shared.ErrTransport, "indexer write failed", err)
	}

	// A replayed write kept the original outbox row; report its receipt.
	var storedID string
	var storedAt time.Time
	row := r.conn.QueryRow(ctx,
		`SELECT id, created_at FROM completion_outbox WHERE idempotency_key = $1`, key)
	if err := row.Scan(&storedID, &storedAt); err != nil {
		return nil, shared.WrapError("ledger", "WriteCompletion", shared.ErrTransport, "outbox readback failed", err)
	}

	r.logger.Info("completion enqueued",
		"principal", principal.String(),
		"course_id", courseID.String(),
		"unit_index", unitIndex,
		"receipt_id", storedID,
	)

	return &progress.Receipt{
		ID:          storedID,
		TxHash:      surrogate,
		ConfirmedAt: storedAt,
	}, nil
}

// PendingOutbox returns the outbox rows a relayer should drain, oldest first.
func (r *IndexerLedger) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT id, principal, course_id, unit_index, idempotency_key, created_at
		 FROM completion_outbox
		 WHERE status = 'pending'
		 ORDER BY created_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, shared.WrapError("ledger", "PendingOutbox", shared.ErrTransport, "outbox query failed", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Principal, &e.CourseID, &e.UnitIndex, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, shared.WrapError("ledger", "PendingOutbox", shared.ErrTransport, "outbox scan failed", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkRelayed records the chain confirmation for an outbox entry.
func (r *IndexerLedger) MarkRelayed(ctx context.Context, id, chainTxHash string) error {
	_, err := r.conn.Exec(ctx,
		`UPDATE completion_outbox
		 SET status = 'relayed', chain_tx_hash = $2, relayed_at = NOW()
		 WHERE id = $1`, id, chainTxHash)
	if err != nil {
		return shared.WrapError("ledger", "MarkRelayed", shared.ErrTransport, "outbox update failed", err)
	}
	return nil
}

// OutboxEntry is one pending completion transaction.
type OutboxEntry struct {
	ID             string
	Principal      string
	CourseID       string
	UnitIndex      int
	IdempotencyKey string
	CreatedAt      time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// CourseUnits reads the published units of a course, ordered by index.
func (r *IndexerLedger) CourseUnits(ctx context.Context, courseID shared.CourseID) ([]content.ContentUnit, error) {
	rows, err := r.conn.Query(ctx,
		`SELECT unit_index, title, content_id, kind, duration_seconds
		 FROM course_units
		 WHERE course_id = $1
		 ORDER BY unit_index`, courseID.String())
	if err != nil {
		return nil, shared.WrapError("ledger", "CourseUnits", shared.ErrTransport, "catalog query failed", err)
	}
	defer rows.Close()

	var units []content.ContentUnit
	for rows.Next() {
		var (
			unit content.ContentUnit
			kind string
		)
		if err := rows.Scan(&unit.UnitIndex, &unit.Title, &unit.ContentID, &kind, &unit.DurationSeconds); err != nil {
			return nil, shared.WrapError("ledger", "CourseUnits", shared.ErrTransport, "catalog scan failed", err)
		}
		unit.CourseID = courseID
		unit.Kind = content.MediaKind(kind)
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("ledger", "CourseUnits", shared.ErrTransport, "catalog query failed", err)
	}
	if len(units) == 0 {
		return nil, shared.ErrCourseNotFound
	}
	return units, nil
}

// completionKey derives the deterministic idempotency key for a completion.
// Matches the gateway client's derivation so the two ledger backends dedupe
// the same way.
func completionKey(principal shared.Principal, courseID shared.CourseID, unitIndex int) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(principal.String()))
	h.Write([]byte{0})
	h.Write([]byte(courseID.String()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(unitIndex)))
	return hex.EncodeToString(h.Sum(nil))
}
