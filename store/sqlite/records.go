package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/people-engine/generic"
)

var (
	_ generic.TxRecordStore = (*Store)(nil)
	_ generic.AsOfStore     = (*Store)(nil)
)

// =============================================================================
// RECORD STORE (generic.RecordStore interface)
// =============================================================================

const recordColumns = `id, kind, subject_id, effective_date, end_date, payload_json, created_at`

// LoadHistory returns all records for kind+subject, oldest first.
func (s *Store) LoadHistory(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	return loadHistory(ctx, s.db, kind, subjectID)
}

// LoadAsOf returns the record whose interval contains asOf.
func (s *Store) LoadAsOf(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID, asOf generic.TimePoint) (*generic.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM temporal_records
		WHERE kind = ? AND subject_id = ?
		  AND effective_date <= ?
		  AND (end_date IS NULL OR end_date > ?)
		ORDER BY effective_date DESC
		LIMIT 1
	`
	d := asOf.String()
	recs, err := queryRecords(ctx, s.db, query, kind, subjectID, d, d)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s *Store) InsertRecord(ctx context.Context, rec generic.Record) error {
	return insertRecord(ctx, s.db, rec)
}

func (s *Store) SetEndDate(ctx context.Context, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	return setEndDate(ctx, s.db, kind, id, end)
}

func (s *Store) DeleteRecord(ctx context.Context, kind generic.RecordKind, id generic.RecordID) error {
	return deleteRecord(ctx, s.db, kind, id)
}

func loadHistory(ctx context.Context, q querier, kind generic.RecordKind, subjectID generic.SubjectID) ([]generic.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM temporal_records
		WHERE kind = ? AND subject_id = ?
		ORDER BY effective_date ASC
	`
	return queryRecords(ctx, q, query, kind, subjectID)
}

func insertRecord(ctx context.Context, q querier, rec generic.Record) error {
	query := `
		INSERT INTO temporal_records
		(id, kind, subject_id, effective_date, end_date, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rec.ID,
		rec.Kind,
		rec.SubjectID,
		rec.EffectiveDate.String(),
		nullDate(rec.EndDate),
		string(rec.Payload),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to insert record: %w", err), string(rec.SubjectID))
	}
	return nil
}

func setEndDate(ctx context.Context, q querier, kind generic.RecordKind, id generic.RecordID, end *generic.TimePoint) error {
	res, err := q.ExecContext(ctx,
		"UPDATE temporal_records SET end_date = ? WHERE kind = ? AND id = ?",
		nullDate(end), kind, id,
	)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to set end date: %w", err), string(id))
	}
	return requireRow(res, id)
}

func deleteRecord(ctx context.Context, q querier, kind generic.RecordKind, id generic.RecordID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM temporal_records WHERE kind = ? AND id = ?", kind, id)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to delete record: %w", err), string(id))
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id generic.RecordID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", generic.ErrRecordNotFound, id)
	}
	return nil
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]generic.Record, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
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
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (generic.Record, error) {
	var (
		rec           generic.Record
		effectiveDate string
		endDate       sql.NullString
		payload       string
		createdAt     string
	)
	err := rows.Scan(&rec.ID, &rec.Kind, &rec.SubjectID, &effectiveDate, &endDate, &payload, &createdAt)
	if err != nil {
		return rec, fmt.Errorf("failed to scan record: %w", err)
	}
	if rec.EffectiveDate, err = parseDate(effectiveDate); err != nil {
		return rec, err
	}
	if rec.EndDate, err = parseNullDate(endDate); err != nil {
		return rec, err
	}
	rec.Payload = []byte(payload)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return rec, fmt.Errorf("record %s created_at: %w", rec.ID, err)
	}
	return rec, nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxRecordStore interface)
// =============================================================================

// WithSubjectTx runs fn inside one BEGIN IMMEDIATE transaction.
func (s *Store) WithSubjectTx(ctx context.Context, kind generic.RecordKind, subjectID generic.SubjectID, fn func(generic.RecordStore) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapRecordError(fmt.Errorf("failed to begin transaction: %w", err), string(subjectID))
	}
	defer sqlTx.Rollback()

	if err := fn(&recordTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapRecordError(fmt.Errorf("failed to commit: %w", err), string(subjectID))
	}
	return nil
}

type recordTx struct {
	tx *sql.Tx
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
