package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"lifeconnect/internal/donor/models"
	"lifeconnect/internal/livesync"
	"lifeconnect/pkg/domain"
	"lifeconnect/pkg/platform/sentinel"
)

// Postgres persists donors in PostgreSQL. This store is pure I/O plus the
// conditional status guards; ranking, dispatch policy, and reveal logic
// belong in the services.
//
// Expected schema:
//
//	CREATE TABLE donors (
//	    id                 UUID PRIMARY KEY,
//	    name               TEXT NOT NULL,
//	    phone              TEXT NOT NULL,
//	    blood_group        TEXT NOT NULL,
//	    lat                DOUBLE PRECISION NOT NULL,
//	    lng                DOUBLE PRECISION NOT NULL,
//	    is_eligible        BOOLEAN NOT NULL DEFAULT TRUE,
//	    fcm_token          TEXT NOT NULL DEFAULT '',
//	    status             TEXT NOT NULL,
//	    current_request_id UUID,
//	    created_at         TIMESTAMPTZ NOT NULL,
//	    updated_at         TIMESTAMPTZ NOT NULL
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

// NewPostgres constructs a PostgreSQL-backed donor store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	s := &Postgres{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const donorColumns = `id, name, phone, blood_group, lat, lng, is_eligible, fcm_token, status, current_request_id, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, donor *models.Donor) error {
	query := `
		INSERT INTO donors (` + donorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		donor.ID.String(),
		donor.Name,
		donor.Phone,
		donor.BloodGroup.String(),
		donor.Location.Lat,
		donor.Location.Lng,
		donor.IsEligible,
		donor.FCMToken,
		string(donor.Status),
		requestIDValue(donor.CurrentRequestID),
		donor.CreatedAt,
		donor.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create donor: %w", err)
	}
	s.publish(ctx, livesync.KindInsert, donor)
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Postgres) FindByID(ctx context.Context, id domain.DonorID) (*models.Donor, error) {
	query := `SELECT ` + donorColumns + ` FROM donors WHERE id = $1`
	donor, err := scanDonor(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find donor: %w", err)
	}
	return donor, nil
}

func (s *Postgres) ListCandidates(ctx context.Context, group domain.BloodGroup) ([]*models.Donor, error) {
	query := `
		SELECT ` + donorColumns + `
		FROM donors
		WHERE blood_group = $1 AND status = $2 AND is_eligible
		ORDER BY created_at
	`
	return s.queryDonors(ctx, query, group.String(), string(models.DonorStatusActive))
}

func (s *Postgres) ListEngagedByGroup(ctx context.Context, group domain.BloodGroup) ([]*models.Donor, error) {
	query := `
		SELECT ` + donorColumns + `
		FROM donors
		WHERE blood_group = $1 AND status IN ($2, $3)
		ORDER BY created_at
	`
	return s.queryDonors(ctx, query, group.String(),
		string(models.DonorStatusNotified), string(models.DonorStatusAccepted))
}

func (s *Postgres) NotifyIfActive(ctx context.Context, id domain.DonorID, requestID domain.EmergencyRequestID, now time.Time) (*models.Donor, error) {
	query := `
		UPDATE donors
		SET status = $2, current_request_id = $3, updated_at = $4
		WHERE id = $1 AND status = $5
		RETURNING ` + donorColumns
	return s.conditionalUpdate(ctx, id, query,
		id.String(), string(models.DonorStatusNotified), requestID.String(), now, string(models.DonorStatusActive))
}

func (s *Postgres) AcceptIfNotified(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error) {
	query := `
		UPDATE donors
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + donorColumns
	return s.conditionalUpdate(ctx, id, query,
		id.String(), string(models.DonorStatusAccepted), now, string(models.DonorStatusNotified))
}

func (s *Postgres) ReleaseIfNotified(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error) {
	return s.releaseIf(ctx, id, models.DonorStatusNotified, now)
}

func (s *Postgres) ReleaseIfAccepted(ctx context.Context, id domain.DonorID, now time.Time) (*models.Donor, error) {
	return s.releaseIf(ctx, id, models.DonorStatusAccepted, now)
}

func (s *Postgres) releaseIf(ctx context.Context, id domain.DonorID, expected models.DonorStatus, now time.Time) (*models.Donor, error) {
	query := `
		UPDATE donors
		SET status = $2, current_request_id = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING ` + donorColumns
	return s.conditionalUpdate(ctx, id, query,
		id.String(), string(models.DonorStatusActive), now, string(expected))
}

func (s *Postgres) ReleaseByRequest(ctx context.Context, requestID domain.EmergencyRequestID, now time.Time) ([]*models.Donor, error) {
	query := `
		UPDATE donors
		SET status = $2, current_request_id = NULL, updated_at = $3
		WHERE current_request_id = $1 AND status IN ($4, $5)
		RETURNING ` + donorColumns
	released, err := s.queryDonors(ctx, query,
		requestID.String(), string(models.DonorStatusActive), now,
		string(models.DonorStatusNotified), string(models.DonorStatusAccepted))
	if err != nil {
		return nil, err
	}
	for _, d := range released {
		s.publish(ctx, livesync.KindUpdate, d)
	}
	return released, nil
}

// conditionalUpdate runs a guarded single-row UPDATE ... RETURNING. Zero rows
// means either the donor is gone or the guard failed; a follow-up read
// distinguishes the two so callers get the precise sentinel.
func (s *Postgres) conditionalUpdate(ctx context.Context, id domain.DonorID, query string, args ...any) (*models.Donor, error) {
	donor, err := scanDonor(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		s.publish(ctx, livesync.KindUpdate, donor)
		return donor, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("donor status update: %w", err)
	}
	if _, findErr := s.FindByID(ctx, id); findErr != nil {
		return nil, findErr
	}
	return nil, sentinel.ErrInvalidState
}

func (s *Postgres) queryDonors(ctx context.Context, query string, args ...any) ([]*models.Donor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query donors: %w", err)
	}
	defer rows.Close()

	var donors []*models.Donor
	for rows.Next() {
		donor, err := scanDonor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan donor: %w", err)
		}
		donors = append(donors, donor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate donors: %w", err)
	}
	return donors, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonor(row rowScanner) (*models.Donor, error) {
	var (
		d         models.Donor
		idRaw     string
		group     string
		status    string
		requestID sql.NullString
	)
	err := row.Scan(
		&idRaw,
		&d.Name,
		&d.Phone,
		&group,
		&d.Location.Lat,
		&d.Location.Lng,
		&d.IsEligible,
		&d.FCMToken,
		&status,
		&requestID,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(idRaw)
	if err != nil {
		return nil, fmt.Errorf("parse donor id: %w", err)
	}
	d.ID = domain.DonorID(parsedID)
	d.BloodGroup = domain.BloodGroup(group)
	d.Status = models.DonorStatus(status)
	if requestID.Valid {
		parsed, err := uuid.Parse(requestID.String)
		if err != nil {
			return nil, fmt.Errorf("parse current request id: %w", err)
		}
		ref := domain.EmergencyRequestID(parsed)
		d.CurrentRequestID = &ref
	}
	return &d, nil
}

func requestIDValue(id *domain.EmergencyRequestID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func (s *Postgres) publish(ctx context.Context, kind livesync.Kind, d *models.Donor) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, livesync.DonorChanged(kind, d))
}
