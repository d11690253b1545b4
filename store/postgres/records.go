package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/warp/people-engine/generic"
)

var (
	_ generic.TxRecordStore = (*Store)(nil)
	_ generic.AsOfStore     = (*Store)(nil)
)

// =============================================================================
// RECORD STORE (generic.RecordStore interface)
// =============================================================================

const recordColumns = `id, kind, subject_id, effective_date, end_date, payload, created_at`

func (s *Store) LoadHistory(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	return loadHistory(ctx, s.pool, kind, subjectID)
}

// LoadAsOf answers from the (kind, subject_id, effective_date) index.
func (s *Store) LoadAsOf(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID, asOf generic.TimePoint) (*generic.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM temporal_records
		WHERE kind = $1 AND subject_id = $2
		  AND effective_date <= $3
		  AND (end_date IS NULL OR end_date > $3)
		ORDER BY effective_date DESC
		LIMIT 1
	`, string(kind), string(subjectID), asOf.Time)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) InsertRecord(ctx context.Context, rec generic.Record) error {
	return insertRecord(ctx, s.pool, rec)
}

func (s *Store) SetEndDate(ctx context.Context, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	return setEndDate(ctx, s.pool, kind, id, end)
}

func (s *Store) DeleteRecord(ctx context.Context, kind generic.RecordKind, id generic.RecordID) error {
	return deleteRecord(ctx, s.pool, kind, id)
}

// WithSubjectTx runs fn in one SERIALIZABLE transaction.
func (s *Store) WithSubjectTx(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID, fn func(generic.RecordStore) error) error {
	mapErr := func(err error) error { return mapRecordError(err, string(subjectID)) }
	return s.inTx(ctx, mapErr, func(tx pgx.Tx) error {
		return fn(&recordTx{tx: tx})
	})
}

type recordTx struct {
	tx pgx.Tx
}

func (rt *recordTx) LoadHistory(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	return loadHistory(ctx, rt.tx, kind, subjectID)
}

func (rt *recordTx) InsertRecord(ctx context.Context, rec generic.Record) error {
	return insertRecord(ctx, rt.tx, rec)
}

func (rt *recordTx) SetEndDate(ctx context.Context, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	return setEndDate(ctx, rt.tx, kind, id, end)
}

func (rt *recordTx) DeleteRecord(ctx context.Context, kind generic.RecordKind, id generic.RecordID) error {
	return deleteRecord(ctx, rt.tx, kind, id)
}

// =============================================================================
// QUERIES
// =============================================================================

func loadHistory(ctx context.Context, q querier, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	rows, err := q.Query(ctx, `
		SELECT `+recordColumns+`
		FROM temporal_records
		WHERE kind = $1 AND subject_id = $2
		ORDER BY effective_date ASC
	`, string(kind), string(subjectID))
	if err != nil {
		return nil, mapRecordError(fmt.Errorf("failed to query records: %w", err), string(subjectID))
	}
	defer rows.Close()

	var records []generic.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRecordError(err, string(subjectID))
	}
	return records, nil
}

func insertRecord(ctx context.Context, q querier, rec generic.Record) error {
	_, err := q.Exec(ctx, `
		INSERT INTO temporal_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		string(rec.ID), string(rec.Kind), string(rec.SubjectID),
		rec.EffectiveDate.Time, dateArg(rec.EndDate), []byte(rec.Payload), rec.CreatedAt,
	)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to insert record: %w", err), string(rec.SubjectID))
	}
	return nil
}

func setEndDate(ctx context.Context, q querier, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	tag, err := q.Exec(ctx,
		"UPDATE temporal_records SET end_date = $1 WHERE kind = $2 AND id = $3",
		dateArg(end), string(kind), string(id),
	)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to set end date: %w", err), string(id))
	}
	return requireRow(tag, id)
}

func deleteRecord(ctx context.Context, q querier, kind generic.RecordKind, id generic.RecordID) error {
	tag, err := q.Exec(ctx, "DELETE FROM temporal_records WHERE kind = $1 AND id = $2", string(kind), string(id))
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to delete record: %w", err), string(id))
	}
	return requireRow(tag, id)
}

func requireRow(tag pgconn.CommandTag, id generic.RecordID) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
	}
	return nil
}

func scanRecord(row pgx.Row) (generic.Record, error) {
	var (
		rec               generic.Record
		id, kind, subject string
		effective         time.Time
		end               *time.Time
		payload           []byte
	)
	if err := row.Scan(&id, &kind, &subject, &effective, &end, &payload, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.ID = generic.RecordID(id)
	rec.Kind = generic.RecordKind(kind)
	rec.SubjectID = generic.SubjectID(subject)
	rec.EffectiveDate = generic.DateOf(effective)
	rec.EndDate = fromNullDate(end)
	rec.Payload = payload
	return rec, nil
}
