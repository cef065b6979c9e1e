package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

// NewPostgresStoreDSN connects, pings and migrates.
func NewPostgresStoreDSN(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// --- Persons ---

const pgPersonColumns = `id, username, display_name, email, category, classification, organization,
student_id, photo_key, suspended, suspended_until, created_at, updated_at`

func (s *PostgresStore) CreatePerson(ctx context.Context, p *models.Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, username, display_name, email, category, classification, organization,
		   student_id, photo_key, suspended, suspended_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at, updated_at`,
		p.ID, p.Username, p.DisplayName, p.Email, string(p.Category), string(p.Classification),
		p.Organization, p.StudentID, p.PhotoKey, p.Suspension.Suspended, p.Suspension.Until,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if pgCode(err) == pgUniqueViolation {
		return apperr.Newf(apperr.ErrConflict, "username %q already registered", p.Username)
	}
	if err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPersonColumns+` FROM persons WHERE id = $1`, id)
	return scanPgPerson(row)
}

func (s *PostgresStore) GetPersonByUsername(ctx context.Context, username string) (*models.Person, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgPersonColumns+` FROM persons WHERE username = $1`, username)
	return scanPgPerson(row)
}

func (s *PostgresStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgPersonColumns+` FROM persons ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanPgPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

func (s *PostgresStore) DeletePerson(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("person")
	}
	return nil
}

func (s *PostgresStore) SetPhotoKey(ctx context.Context, id uuid.UUID, key string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET photo_key = $1, updated_at = now() WHERE id = $2`, key, id)
	if err != nil {
		return fmt.Errorf("set photo key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("person")
	}
	return nil
}

// UpdateSuspension locks the person row for the duration of fn.
func (s *PostgresStore) UpdateSuspension(ctx context.Context, id uuid.UUID, fn SuspensionFunc) (models.Suspension, error) {
	var result models.Suspension
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var current models.Suspension
		err := tx.QueryRow(ctx,
			`SELECT suspended, suspended_until FROM persons WHERE id = $1 FOR UPDATE`, id,
		).Scan(&current.Suspended, &current.Until)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("person")
		}
		if err != nil {
			return fmt.Errorf("read suspension: %w", err)
		}

		next, changed := fn(current)
		if !changed {
			result = current
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE persons SET suspended = $1, suspended_until = $2, updated_at = now() WHERE id = $3`,
			next.Suspended, next.Until, id,
		); err != nil {
			return fmt.Errorf("write suspension: %w", err)
		}
		result = next
		return nil
	})
	return result, err
}

func (s *PostgresStore) ListExpiredSuspensions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM persons WHERE suspended AND suspended_until IS NOT NULL AND suspended_until < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired suspensions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan expired suspensions: %w", err)
	}
	return ids, nil
}

// --- Events ---

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (id, name, scheduled_at, persistent) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		ev.ID, ev.Name, ev.ScheduledAt, ev.Persistent,
	).Scan(&ev.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return apperr.Newf(apperr.ErrConflict, "event %q already exists", ev.Name)
	}
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, scheduled_at, persistent, created_at FROM events WHERE id = $1`, id)
	return scanPgEvent(row)
}

func (s *PostgresStore) GetEventByName(ctx context.Context, name string) (*models.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, scheduled_at, persistent, created_at FROM events WHERE name = $1`, name)
	return scanPgEvent(row)
}

func (s *PostgresStore) GetOrCreateEvent(ctx context.Context, name string) (*models.Event, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		uuid.New(), name,
	); err != nil {
		return nil, fmt.Errorf("get or create event: %w", err)
	}
	return s.GetEventByName(ctx, name)
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, scheduled_at, persistent, created_at FROM events ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanPgEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// --- Credentials ---

const pgCredentialColumns = `id, person_id, event_id, token, issued_at, active, revoked_at`

func (s *PostgresStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Active = true
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, person_id, event_id, token, issued_at, active) VALUES ($1, $2, $3, $4, $5, TRUE)`,
		c.ID, c.PersonID, c.EventID, c.Token, c.IssuedAt)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "credentials_token_key":
			return ErrDuplicateToken
		case pgErr.Code == pgUniqueViolation:
			return apperr.New(apperr.ErrConflict, "an active credential already exists for this person and event")
		case pgErr.Code == pgForeignKeyViolation:
			return notFound("person or event")
		}
	}
	return fmt.Errorf("create credential: %w", err)
}

func (s *PostgresStore) GetCredentialByToken(ctx context.Context, token string) (*models.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCredentialColumns+` FROM credentials WHERE token = $1 AND active`, token)
	return scanPgCredential(row)
}

func (s *PostgresStore) GetActiveCredential(ctx context.Context, personID, eventID uuid.UUID) (*models.Credential, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgCredentialColumns+` FROM credentials WHERE person_id = $1 AND event_id = $2 AND active`,
		personID, eventID)
	return scanPgCredential(row)
}

func (s *PostgresStore) DeactivateCredential(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET active = FALSE, revoked_at = $1 WHERE id = $2 AND active`, at, id)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("credential")
	}
	return nil
}

func (s *PostgresStore) ListActiveCredentials(ctx context.Context, personID uuid.UUID) ([]models.CredentialView, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.person_id, c.event_id, c.token, c.issued_at, c.active, c.revoked_at, e.name
		 FROM credentials c
		 JOIN events e ON e.id = c.event_id
		 WHERE c.person_id = $1 AND c.active
		 ORDER BY c.issued_at DESC`, personID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	views := []models.CredentialView{}
	for rows.Next() {
		var v models.CredentialView
		if err := rows.Scan(&v.ID, &v.PersonID, &v.EventID, &v.Token, &v.IssuedAt, &v.Active, &v.RevokedAt, &v.EventName); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// --- Biometric references ---

func (s *PostgresStore) UpsertReference(ctx context.Context, ref *models.BiometricReference) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	vec := pgvector.NewVector(ref.Embedding)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_references (id, person_id, image_key, embedding, quality)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (person_id) DO UPDATE SET
		   image_key = EXCLUDED.image_key,
		   embedding = EXCLUDED.embedding,
		   quality = EXCLUDED.quality,
		   created_at = now()
		 RETURNING id, created_at`,
		ref.ID, ref.PersonID, ref.ImageKey, vec, ref.Quality,
	).Scan(&ref.ID, &ref.CreatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return notFound("person")
	}
	if err != nil {
		return fmt.Errorf("upsert reference: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReference(ctx context.Context, personID uuid.UUID) (*models.BiometricReference, error) {
	var (
		ref models.BiometricReference
		vec pgvector.Vector
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, person_id, image_key, embedding, quality, created_at FROM face_references WHERE person_id = $1`,
		personID,
	).Scan(&ref.ID, &ref.PersonID, &ref.ImageKey, &vec, &ref.Quality, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("biometric reference")
	}
	if err != nil {
		return nil, fmt.Errorf("get reference: %w", err)
	}
	ref.Embedding = vec.Slice()
	return &ref, nil
}

func (s *PostgresStore) DeleteReference(ctx context.Context, personID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM face_references WHERE person_id = $1`, personID)
	if err != nil {
		return fmt.Errorf("delete reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("biometric reference")
	}
	return nil
}

func (s *PostgresStore) CountReferences(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_references`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return count, nil
}

// SearchReferences uses the pgvector cosine operator.
func (s *PostgresStore) SearchReferences(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.ReferenceMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.pool.Query(ctx, `
		SELECT fr.person_id, fr.image_key, 1 - (fr.embedding <=> $1) AS score
		FROM face_references fr
		WHERE 1 - (fr.embedding <=> $1) >= $2
		ORDER BY fr.embedding <=> $1
		LIMIT $3`, vec, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("search references: %w", err)
	}
	defer rows.Close()

	var matches []models.ReferenceMatch
	for rows.Next() {
		var m models.ReferenceMatch
		if err := rows.Scan(&m.PersonID, &m.ImageKey, &m.Score); err != nil {
			return nil, fmt.Errorf("scan search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- Complaints ---

const pgComplaintColumns = `id, accused_id, reporter_id, text, evidence_key, status, created_at`

func (s *PostgresStore) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ComplaintPending
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO complaints (id, accused_id, reporter_id, text, evidence_key, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		c.ID, c.AccusedID, c.ReporterID, c.Text, c.EvidenceKey, string(c.Status),
	).Scan(&c.CreatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return notFound("person")
	}
	if err != nil {
		return fmt.Errorf("create complaint: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgComplaintColumns+` FROM complaints WHERE id = $1`, id)
	return scanPgComplaint(row)
}

func (s *PostgresStore) ListComplaints(ctx context.Context, reporterID *uuid.UUID) ([]models.Complaint, error) {
	query := `SELECT ` + pgComplaintColumns + ` FROM complaints`
	var args []interface{}
	if reporterID != nil {
		query += ` WHERE reporter_id = $1`
		args = append(args, *reporterID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	complaints := []models.Complaint{}
	for rows.Next() {
		c, err := scanPgComplaint(rows)
		if err != nil {
			return nil, err
		}
		complaints = append(complaints, *c)
	}
	return complaints, rows.Err()
}

func (s *PostgresStore) UpdateComplaintStatus(ctx context.Context, id uuid.UUID, status models.ComplaintStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE complaints SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("complaint")
	}
	return nil
}

func (s *PostgresStore) DeleteComplaint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM complaints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete complaint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("complaint")
	}
	return nil
}

// --- Access log ---

func (s *PostgresStore) RecordAccessEvent(ctx context.Context, ev models.AccessEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.DecidedAt.IsZero() {
		ev.DecidedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO access_events (id, path, granted, reason, person_id, event_id, actor, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, string(ev.Path), ev.Granted, ev.Reason, ev.PersonID, ev.EventID, ev.Actor, ev.DecidedAt)
	if err != nil {
		return fmt.Errorf("record access event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccessEvents(ctx context.Context, limit int) ([]models.AccessEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, path, granted, reason, person_id, event_id, actor, decided_at
		 FROM access_events ORDER BY decided_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list access events: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var (
			ev   models.AccessEvent
			path string
		)
		if err := rows.Scan(&ev.ID, &path, &ev.Granted, &ev.Reason, &ev.PersonID, &ev.EventID, &ev.Actor, &ev.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		ev.Path = models.VerificationPath(path)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- scanning helpers ---

func scanPgPerson(row pgx.Row) (*models.Person, error) {
	var (
		p               models.Person
		category, class string
	)
	err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.Email, &category, &class,
		&p.Organization, &p.StudentID, &p.PhotoKey, &p.Suspension.Suspended, &p.Suspension.Until,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("person")
	}
	if err != nil {
		return nil, fmt.Errorf("scan person: %w", err)
	}
	p.Category = models.Category(category)
	p.Classification = models.Classification(class)
	return &p, nil
}

func scanPgEvent(row pgx.Row) (*models.Event, error) {
	var ev models.Event
	err := row.Scan(&ev.ID, &ev.Name, &ev.ScheduledAt, &ev.Persistent, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("event")
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &ev, nil
}

func scanPgCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.PersonID, &c.EventID, &c.Token, &c.IssuedAt, &c.Active, &c.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("credential")
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}

func scanPgComplaint(row pgx.Row) (*models.Complaint, error) {
	var (
		c      models.Complaint
		status string
	)
	err := row.Scan(&c.ID, &c.AccusedID, &c.ReporterID, &c.Text, &c.EvidenceKey, &status, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("complaint")
	}
	if err != nil {
		return nil, fmt.Errorf("scan complaint: %w", err)
	}
	c.Status = models.ComplaintStatus(status)
	return &c, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
