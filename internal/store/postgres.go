package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	appLog "visitcal/internal/log"
	"visitcal/internal/model"
)

// Schema is applied by Migrate. visit_date / visit_time hold the wall-clock
// fields exactly as submitted.
const Schema = `
CREATE TABLE IF NOT EXISTS visits (
	id                        TEXT PRIMARY KEY,
	doctor_name               TEXT NOT NULL,
	hospital                  TEXT NOT NULL,
	nurse                     TEXT NOT NULL DEFAULT '',
	note                      TEXT NOT NULL DEFAULT '',
	visit_date                TEXT NOT NULL,
	visit_time                TEXT NOT NULL,
	status                    TEXT NOT NULL DEFAULT 'scheduled',
	recurrence                TEXT NOT NULL DEFAULT 'once',
	last_notified_occurrence  TIMESTAMPTZ,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS visits_status_date_idx ON visits (status, visit_date, visit_time);
`

const visitColumns = `id, doctor_name, hospital, nurse, note, visit_date, visit_time,
	status, recurrence, last_notified_occurrence, created_at, updated_at`

// Postgres is a VisitStore backed by a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Migrate creates the visits table if needed.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.Exec(ctx, Schema)
	return err
}

func (p *Postgres) ListScheduled(ctx context.Context) ([]model.VisitRecord, error) {
	return p.query(ctx, `SELECT `+visitColumns+` FROM visits
		WHERE status = $1
		ORDER BY visit_date, visit_time, id`, string(model.StatusScheduled))
}

func (p *Postgres) List(ctx context.Context) ([]model.VisitRecord, error) {
	return p.query(ctx, `SELECT `+visitColumns+` FROM visits ORDER BY visit_date, visit_time, id`)
}

func (p *Postgres) Get(ctx context.Context, id string) (model.VisitRecord, error) {
	row := p.db.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, id)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VisitRecord{}, ErrNotFound
	}
	return v, err
}

func (p *Postgres) Create(ctx context.Context, v model.VisitRecord) (model.VisitRecord, error) {
	if v.ID == "" {
		v.ID = ulid.Make().String()
	}
	row := p.db.QueryRow(ctx, `
		INSERT INTO visits (id, doctor_name, hospital, nurse, note, visit_date, visit_time, status, recurrence)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING `+visitColumns,
		v.ID, v.DoctorName, v.Hospital, v.Nurse, v.Note, v.Date, v.Time, string(v.Status), v.Recurrence.String())
	return scanVisit(row)
}

func (p *Postgres) Update(ctx context.Context, v model.VisitRecord) (model.VisitRecord, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE visits SET
			doctor_name=$2, hospital=$3, nurse=$4, note=$5,
			visit_date=$6, visit_time=$7, status=$8, recurrence=$9,
			updated_at=now()
		WHERE id=$1
		RETURNING `+visitColumns,
		v.ID, v.DoctorName, v.Hospital, v.Nurse, v.Note, v.Date, v.Time, string(v.Status), v.Recurrence.String())
	out, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.VisitRecord{}, ErrNotFound
	}
	return out, err
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM visits WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompareAndSetMarker is a single conditional UPDATE; IS NOT DISTINCT FROM
// treats NULL = NULL as a match.
func (p *Postgres) CompareAndSetMarker(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error) {
	var exp *time.Time
	if expected != nil {
		t := model.MarkerTime(*expected)
		exp = &t
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE visits SET last_notified_occurrence = $3
		WHERE id = $1 AND last_notified_occurrence IS NOT DISTINCT FROM $2::timestamptz`,
		id, exp, model.MarkerTime(next))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ClearMarker(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `UPDATE visits SET last_notified_occurrence = NULL WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]model.VisitRecord, error) {
	rows, err := p.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var visits []model.VisitRecord
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			// A bad row is a data defect; keep the rest of the list.
			appLog.Error("postgres: skipping unreadable visit row", err)
			continue
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

func scanVisit(row pgx.Row) (model.VisitRecord, error) {
	var (
		v          model.VisitRecord
		status     string
		recurrence string
		marker     *time.Time
	)
	if err := row.Scan(
		&v.ID,
		&v.DoctorName,
		&v.Hospital,
		&v.Nurse,
		&v.Note,
		&v.Date,
		&v.Time,
		&status,
		&recurrence,
		&marker,
		&v.CreatedAt,
		&v.UpdatedAt,
	); err != nil {
		return model.VisitRecord{}, err
	}

	v.Status = model.Status(status)
	rec, err := model.ParseRecurrence(recurrence)
	if err != nil {
		return model.VisitRecord{}, fmt.Errorf("visit %s: %w", v.ID, err)
	}
	v.Recurrence = rec
	if marker != nil {
		t := model.MarkerTime(*marker)
		v.LastNotifiedOccurrence = &t
	}
	return v, nil
}
