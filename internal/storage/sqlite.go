package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

// SQLiteStore is the single-node backend. Reads use the pool directly;
// writes go through the Writer.
type SQLiteStore struct {
	db     *sql.DB
	writer *Writer
}

// OpenSQLite opens (creating if needed) the database file and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	return openSQLiteDSN(ctx, fmt.Sprintf("file:%s?%s", path, sqlitePragmas))
}

// OpenSQLiteMemory opens a named shared in-memory database.
func OpenSQLiteMemory(ctx context.Context, name string) (*SQLiteStore, error) {
	return openSQLiteDSN(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", name, sqlitePragmas))
}

func openSQLiteDSN(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, writer: NewWriter(db)}, nil
}

func (s *SQLiteStore) Close() {
	s.writer.Close()
	_ = s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the connection for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ── Persons ──

const personColumns = `id, username, display_name, email, category, classification, organization,
student_id, photo_key, suspended, suspended_until_ms, created_at_ms, updated_at_ms`

func (s *SQLiteStore) CreatePerson(ctx context.Context, p *models.Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO persons (`+personColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			p.ID.String(), p.Username, p.DisplayName, p.Email, string(p.Category), string(p.Classification),
			p.Organization, p.StudentID, p.PhotoKey, boolInt(p.Suspension.Suspended), msPtr(p.Suspension.Until),
			now.UnixMilli(), now.UnixMilli(),
		)
		if isSQLiteUnique(err) {
			return apperr.Newf(apperr.ErrConflict, "username %q already registered", p.Username)
		}
		if err != nil {
			return fmt.Errorf("create person: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE id = ?;`, id.String())
	return scanSQLitePerson(row)
}

func (s *SQLiteStore) GetPersonByUsername(ctx context.Context, username string) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons WHERE username = ?;`, username)
	return scanSQLitePerson(row)
}

func (s *SQLiteStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+personColumns+` FROM persons ORDER BY username;`)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanSQLitePerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

func (s *SQLiteStore) DeletePerson(ctx context.Context, id uuid.UUID) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = ?;`, id.String())
		if err != nil {
			return fmt.Errorf("delete person: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("person")
		}
		return nil
	})
}

func (s *SQLiteStore) SetPhotoKey(ctx context.Context, id uuid.UUID, key string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE persons SET photo_key = ?, updated_at_ms = ? WHERE id = ?;`,
			key, time.Now().UTC().UnixMilli(), id.String())
		if err != nil {
			return fmt.Errorf("set photo key: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("person")
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateSuspension(ctx context.Context, id uuid.UUID, fn SuspensionFunc) (models.Suspension, error) {
	var result models.Suspension
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var (
			suspended int
			untilMs   sql.NullInt64
		)
		err := tx.QueryRowContext(ctx,
			`SELECT suspended, suspended_until_ms FROM persons WHERE id = ?;`, id.String(),
		).Scan(&suspended, &untilMs)
		if err == sql.ErrNoRows {
			return notFound("person")
		}
		if err != nil {
			return fmt.Errorf("read suspension: %w", err)
		}

		current := models.Suspension{Suspended: suspended == 1, Until: fromNullMs(untilMs)}
		next, changed := fn(current)
		if !changed {
			result = current
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE persons SET suspended = ?, suspended_until_ms = ?, updated_at_ms = ? WHERE id = ?;`,
			boolInt(next.Suspended), msPtr(next.Until), time.Now().UTC().UnixMilli(), id.String(),
		); err != nil {
			return fmt.Errorf("write suspension: %w", err)
		}
		result = next
		return nil
	})
	return result, err
}

func (s *SQLiteStore) ListExpiredSuspensions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM persons WHERE suspended = 1 AND suspended_until_ms IS NOT NULL AND suspended_until_ms < ?;`,
		now.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list expired suspensions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse person id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ── Events ──

func (s *SQLiteStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = time.Now().UTC()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, name, scheduled_at_ms, persistent, created_at_ms) VALUES (?, ?, ?, ?, ?);`,
			ev.ID.String(), ev.Name, msPtr(ev.ScheduledAt), boolInt(ev.Persistent), ev.CreatedAt.UnixMilli())
		if isSQLiteUnique(err) {
			return apperr.Newf(apperr.ErrConflict, "event %q already exists", ev.Name)
		}
		if err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, scheduled_at_ms, persistent, created_at_ms FROM events WHERE id = ?;`, id.String())
	return scanSQLiteEvent(row)
}

func (s *SQLiteStore) GetEventByName(ctx context.Context, name string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, scheduled_at_ms, persistent, created_at_ms FROM events WHERE name = ?;`, name)
	return scanSQLiteEvent(row)
}

func (s *SQLiteStore) GetOrCreateEvent(ctx context.Context, name string) (*models.Event, error) {
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO events (id, name, persistent, created_at_ms) VALUES (?, ?, 0, ?)
ON CONFLICT(name) DO NOTHING;`,
			uuid.NewString(), name, time.Now().UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("get or create event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetEventByName(ctx, name)
}

func (s *SQLiteStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, scheduled_at_ms, persistent, created_at_ms FROM events ORDER BY name;`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// ── Credentials ──

const credentialColumns = `id, person_id, event_id, token, issued_at_ms, active, revoked_at_ms`

func (s *SQLiteStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Active = true
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO credentials (`+credentialColumns+`) VALUES (?, ?, ?, ?, ?, 1, NULL);`,
			c.ID.String(), c.PersonID.String(), c.EventID.String(), c.Token, c.IssuedAt.UTC().UnixMilli())
		switch {
		case err == nil:
			return nil
		case isSQLiteUnique(err) && strings.Contains(err.Error(), "credentials.token"):
			return ErrDuplicateToken
		case isSQLiteUnique(err):
			return apperr.New(apperr.ErrConflict, "an active credential already exists for this person and event")
		case isSQLiteForeignKey(err):
			return notFound("person or event")
		default:
			return fmt.Errorf("create credential: %w", err)
		}
	})
}

func (s *SQLiteStore) GetCredentialByToken(ctx context.Context, token string) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE token = ? AND active = 1;`, token)
	return scanSQLiteCredential(row)
}

func (s *SQLiteStore) GetActiveCredential(ctx context.Context, personID, eventID uuid.UUID) (*models.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE person_id = ? AND event_id = ? AND active = 1;`,
		personID.String(), eventID.String())
	return scanSQLiteCredential(row)
}

func (s *SQLiteStore) DeactivateCredential(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE credentials SET active = 0, revoked_at_ms = ? WHERE id = ? AND active = 1;`,
			at.UTC().UnixMilli(), id.String())
		if err != nil {
			return fmt.Errorf("deactivate credential: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("credential")
		}
		return nil
	})
}

func (s *SQLiteStore) ListActiveCredentials(ctx context.Context, personID uuid.UUID) ([]models.CredentialView, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.person_id, c.event_id, c.token, c.issued_at_ms, c.active, c.revoked_at_ms, e.name
FROM credentials c
JOIN events e ON e.id = c.event_id
WHERE c.person_id = ? AND c.active = 1
ORDER BY c.issued_at_ms DESC;`, personID.String())
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	views := []models.CredentialView{}
	for rows.Next() {
		var v models.CredentialView
		c, err := scanSQLiteCredentialInto(rows, &v.EventName)
		if err != nil {
			return nil, err
		}
		v.Credential = *c
		views = append(views, v)
	}
	return views, rows.Err()
}

// ── Biometric references ──

func (s *SQLiteStore) UpsertReference(ctx context.Context, ref *models.BiometricReference) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	ref.CreatedAt = time.Now().UTC()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO face_references (id, person_id, image_key, embedding, quality, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(person_id) DO UPDATE SET
  image_key = excluded.image_key,
  embedding = excluded.embedding,
  quality = excluded.quality,
  created_at_ms = excluded.created_at_ms;`,
			ref.ID.String(), ref.PersonID.String(), ref.ImageKey, encodeEmbedding(ref.Embedding),
			ref.Quality, ref.CreatedAt.UnixMilli())
		if isSQLiteForeignKey(err) {
			return notFound("person")
		}
		if err != nil {
			return fmt.Errorf("upsert reference: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT id FROM face_references WHERE person_id = ?;`, ref.PersonID.String(),
		).Scan(uuidScanner{&ref.ID})
	})
}

func (s *SQLiteStore) GetReference(ctx context.Context, personID uuid.UUID) (*models.BiometricReference, error) {
	var (
		ref     models.BiometricReference
		blob    []byte
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, person_id, image_key, embedding, quality, created_at_ms
FROM face_references WHERE person_id = ?;`, personID.String(),
	).Scan(uuidScanner{&ref.ID}, uuidScanner{&ref.PersonID}, &ref.ImageKey, &blob, &ref.Quality, &created)
	if err == sql.ErrNoRows {
		return nil, notFound("biometric reference")
	}
	if err != nil {
		return nil, fmt.Errorf("get reference: %w", err)
	}
	if ref.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, err
	}
	ref.CreatedAt = time.UnixMilli(created).UTC()
	return &ref, nil
}

func (s *SQLiteStore) DeleteReference(ctx context.Context, personID uuid.UUID) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM face_references WHERE person_id = ?;`, personID.String())
		if err != nil {
			return fmt.Errorf("delete reference: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("biometric reference")
		}
		return nil
	})
}

func (s *SQLiteStore) CountReferences(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_references;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count references: %w", err)
	}
	return n, nil
}

// SearchReferences scans every reference; SQLite has no vector index.
func (s *SQLiteStore) SearchReferences(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.ReferenceMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT person_id, image_key, embedding FROM face_references;`)
	if err != nil {
		return nil, fmt.Errorf("search references: %w", err)
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		var (
			c    scored
			blob []byte
		)
		if err := rows.Scan(uuidScanner{&c.personID}, &c.imageKey, &blob); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		if c.embedding, err = decodeEmbedding(blob); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rankReferences(candidates, embedding, threshold, limit), nil
}

// ── Complaints ──

const complaintColumns = `id, accused_id, reporter_id, text, evidence_key, status, created_at_ms`

func (s *SQLiteStore) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ComplaintPending
	}
	c.CreatedAt = time.Now().UTC()

	var reporter any
	if c.ReporterID != nil {
		reporter = c.ReporterID.String()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO complaints (`+complaintColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?);`,
			c.ID.String(), c.AccusedID.String(), reporter, c.Text, c.EvidenceKey, string(c.Status), c.CreatedAt.UnixMilli())
		if isSQLiteForeignKey(err) {
			return notFound("person")
		}
		if err != nil {
			return fmt.Errorf("create complaint: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+complaintColumns+` FROM complaints WHERE id = ?;`, id.String())
	return scanSQLiteComplaint(row)
}

func (s *SQLiteStore) ListComplaints(ctx context.Context, reporterID *uuid.UUID) ([]models.Complaint, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if reporterID == nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+complaintColumns+` FROM complaints ORDER BY created_at_ms DESC;`)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+complaintColumns+` FROM complaints WHERE reporter_id = ? ORDER BY created_at_ms DESC;`,
			reporterID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("list complaints: %w", err)
	}
	defer rows.Close()

	complaints := []models.Complaint{}
	for rows.Next() {
		c, err := scanSQLiteComplaint(rows)
		if err != nil {
			return nil, err
		}
		complaints = append(complaints, *c)
	}
	return complaints, rows.Err()
}

func (s *SQLiteStore) UpdateComplaintStatus(ctx context.Context, id uuid.UUID, status models.ComplaintStatus) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE complaints SET status = ? WHERE id = ?;`, string(status), id.String())
		if err != nil {
			return fmt.Errorf("update complaint: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("complaint")
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteComplaint(ctx context.Context, id uuid.UUID) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM complaints WHERE id = ?;`, id.String())
		if err != nil {
			return fmt.Errorf("delete complaint: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("complaint")
		}
		return nil
	})
}

// ── Access log ──

func (s *SQLiteStore) RecordAccessEvent(ctx context.Context, ev models.AccessEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.DecidedAt.IsZero() {
		ev.DecidedAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events (id, path, granted, reason, person_id, event_id, actor, decided_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
			ev.ID.String(), string(ev.Path), boolInt(ev.Granted), ev.Reason,
			uuidPtrString(ev.PersonID), uuidPtrString(ev.EventID), ev.Actor, ev.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("record access event: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListAccessEvents(ctx context.Context, limit int) ([]models.AccessEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, path, granted, reason, person_id, event_id, actor, decided_at_ms
FROM access_events ORDER BY decided_at_ms DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list access events: %w", err)
	}
	defer rows.Close()

	var events []models.AccessEvent
	for rows.Next() {
		var (
			ev            models.AccessEvent
			path          string
			granted       int
			person, event sql.NullString
			decided       int64
		)
		if err := rows.Scan(uuidScanner{&ev.ID}, &path, &granted, &ev.Reason, &person, &event, &ev.Actor, &decided); err != nil {
			return nil, fmt.Errorf("scan access event: %w", err)
		}
		ev.Path = models.VerificationPath(path)
		ev.Granted = granted == 1
		ev.PersonID = parseNullUUID(person)
		ev.EventID = parseNullUUID(event)
		ev.DecidedAt = time.UnixMilli(decided).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ── scanning helpers ──

type rowScanner interface {
	Scan(dest ...any) error
}

// uuidScanner reads a TEXT column into a uuid.UUID.
type uuidScanner struct{ dst *uuid.UUID }

func (u uuidScanner) Scan(src any) error {
	switch v := src.(type) {
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return err
		}
		*u.dst = id
		return nil
	case []byte:
		id, err := uuid.ParseBytes(v)
		if err != nil {
			return err
		}
		*u.dst = id
		return nil
	default:
		return fmt.Errorf("cannot scan %T into uuid", src)
	}
}

func scanSQLitePerson(row rowScanner) (*models.Person, error) {
	var (
		p                  models.Person
		category, class    string
		suspended          int
		untilMs            sql.NullInt64
		createdMs, updated int64
	)
	err := row.Scan(uuidScanner{&p.ID}, &p.Username, &p.DisplayName, &p.Email, &category, &class,
		&p.Organization, &p.StudentID, &p.PhotoKey, &suspended, &untilMs, &createdMs, &updated)
	if err == sql.ErrNoRows {
		return nil, notFound("person")
	}
	if err != nil {
		return nil, fmt.Errorf("scan person: %w", err)
	}
	p.Category = models.Category(category)
	p.Classification = models.Classification(class)
	p.Suspension = models.Suspension{Suspended: suspended == 1, Until: fromNullMs(untilMs)}
	p.CreatedAt = time.UnixMilli(createdMs).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return &p, nil
}

func scanSQLiteEvent(row rowScanner) (*models.Event, error) {
	var (
		ev          models.Event
		scheduledMs sql.NullInt64
		persistent  int
		createdMs   int64
	)
	err := row.Scan(uuidScanner{&ev.ID}, &ev.Name, &scheduledMs, &persistent, &createdMs)
	if err == sql.ErrNoRows {
		return nil, notFound("event")
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev.ScheduledAt = fromNullMs(scheduledMs)
	ev.Persistent = persistent == 1
	ev.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &ev, nil
}

func scanSQLiteCredential(row rowScanner) (*models.Credential, error) {
	return scanSQLiteCredentialInto(row)
}

func scanSQLiteCredentialInto(row rowScanner, extra ...any) (*models.Credential, error) {
	var (
		c         models.Credential
		issuedMs  int64
		active    int
		revokedMs sql.NullInt64
	)
	dest := append([]any{uuidScanner{&c.ID}, uuidScanner{&c.PersonID}, uuidScanner{&c.EventID},
		&c.Token, &issuedMs, &active, &revokedMs}, extra...)
	err := row.Scan(dest...)
	if err == sql.ErrNoRows {
		return nil, notFound("credential")
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	c.IssuedAt = time.UnixMilli(issuedMs).UTC()
	c.Active = active == 1
	c.RevokedAt = fromNullMs(revokedMs)
	return &c, nil
}

func scanSQLiteComplaint(row rowScanner) (*models.Complaint, error) {
	var (
		c         models.Complaint
		reporter  sql.NullString
		status    string
		createdMs int64
	)
	err := row.Scan(uuidScanner{&c.ID}, uuidScanner{&c.AccusedID}, &reporter, &c.Text, &c.EvidenceKey, &status, &createdMs)
	if err == sql.ErrNoRows {
		return nil, notFound("complaint")
	}
	if err != nil {
		return nil, fmt.Errorf("scan complaint: %w", err)
	}
	c.ReporterID = parseNullUUID(reporter)
	c.Status = models.ComplaintStatus(status)
	c.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &c, nil
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isSQLiteForeignKey(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromNullMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func uuidPtrString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func parseNullUUID(v sql.NullString) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return nil
	}
	return &id
}
