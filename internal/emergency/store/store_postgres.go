package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lifeconnect/internal/emergency/models"
	"lifeconnect/internal/livesync"
	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

// Postgres persists emergency requests in PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE emergency_requests (
//	    id            UUID PRIMARY KEY,
//	    patient_name  TEXT NOT NULL,
//	    hospital_name TEXT NOT NULL,
//	    blood_group   TEXT NOT NULL,
//	    lat           DOUBLE PRECISION NOT NULL,
//	    lng           DOUBLE PRECISION NOT NULL,
//	    address       TEXT NOT NULL,
//	    status        TEXT NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
type Postgres struct {
	db     *sql.DB
	events livesync.Publisher
}

// PostgresOption configures the postgres store.
type PostgresOption func(*Postgres)

// WithPostgresEvents publishes a change event after every successful
// mutation.
func WithPostgresEvents(pub livesync.Publisher) PostgresOption {
	return func(s *Postgres) {
		s.events = pub
	}
}

// NewPostgres constructs a PostgreSQL-backed request store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	s := &Postgres{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const requestColumns = `id, patient_name, hospital_name, blood_group, lat, lng, address, status, created_at`

func (s *Postgres) Create(ctx context.Context, request *models.EmergencyRequest) error {
	query := `
		INSERT INTO emergency_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		request.ID.String(),
		request.PatientName,
		request.HospitalName,
		request.BloodGroup.String(),
		request.Location.Lat,
		request.Location.Lng,
		request.Address,
		string(request.Status),
		request.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create emergency request: %w", err)
	}
	s.publish(ctx, livesync.KindInsert, request)
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Postgres) FindByID(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM emergency_requests WHERE id = $1`
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find emergency request: %w", err)
	}
	return request, nil
}

func (s *Postgres) Latest(ctx context.Context) (*models.EmergencyRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM emergency_requests ORDER BY created_at DESC LIMIT 1`
	request, err := scanRequest(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("latest emergency request: %w", err)
	}
	return request, nil
}

func (s *Postgres) MatchIfSearching(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	query := `
		UPDATE emergency_requests
		SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING ` + requestColumns
	return s.conditionalUpdate(ctx, id, query,
		id.String(), string(models.RequestStatusMatched), string(models.RequestStatusSearching))
}

func (s *Postgres) CancelIfOpen(ctx context.Context, id domain.EmergencyRequestID) (*models.EmergencyRequest, error) {
	query := `
		UPDATE emergency_requests
		SET status = $2
		WHERE id = $1 AND status <> $2
		RETURNING ` + requestColumns
	return s.conditionalUpdate(ctx, id, query,
		id.String(), string(models.RequestStatusCancelled))
}

func (s *Postgres) conditionalUpdate(ctx context.Context, id domain.EmergencyRequestID, query string, args ...any) (*models.EmergencyRequest, error) {
	request, err := scanRequest(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		s.publish(ctx, livesync.KindUpdate, request)
		return request, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request status update: %w", err)
	}
	if _, findErr := s.FindByID(ctx, id); findErr != nil {
		return nil, findErr
	}
	return nil, sentinel.ErrInvalidState
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.EmergencyRequest, error) {
	var (
		r      models.EmergencyRequest
		idRaw  string
		group  string
		status string
	)
	err := row.Scan(
		&idRaw,
		&r.PatientName,
		&r.HospitalName,
		&group,
		&r.Location.Lat,
		&r.Location.Lng,
		&r.Address,
		&status,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(idRaw)
	if err != nil {
		return nil, fmt.Errorf("parse request id: %w", err)
	}
	r.ID = domain.EmergencyRequestID(parsedID)
	r.BloodGroup = domain.BloodGroup(group)
	r.Status = models.RequestStatus(status)
	return &r, nil
}

func (s *Postgres) publish(ctx context.Context, kind livesync.Kind, r *models.EmergencyRequest) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, livesync.RequestChanged(kind, r))
}
