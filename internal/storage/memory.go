package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
)

// MemoryStore keeps everything in process. It backs the "memory" driver and
// service tests; uniqueness rules match the SQL schemas.
type MemoryStore struct {
	mu          sync.Mutex
	persons     map[uuid.UUID]models.Person
	events      map[uuid.UUID]models.Event
	credentials map[uuid.UUID]models.Credential
	references  map[uuid.UUID]models.BiometricReference // by person
	complaints  map[uuid.UUID]models.Complaint
	accessLog   []models.AccessEvent
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		persons:     make(map[uuid.UUID]models.Person),
		events:      make(map[uuid.UUID]models.Event),
		credentials: make(map[uuid.UUID]models.Credential),
		references:  make(map[uuid.UUID]models.BiometricReference),
		complaints:  make(map[uuid.UUID]models.Complaint),
		now:         time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// --- Persons ---

func (s *MemoryStore) CreatePerson(ctx context.Context, p *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.persons {
		if existing.Username == p.Username {
			return apperr.Newf(apperr.ErrConflict, "username %q already registered", p.Username)
		}
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.persons[p.ID] = clonePerson(*p)
	return nil
}

func (s *MemoryStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return nil, notFound("person")
	}
	out := clonePerson(p)
	return &out, nil
}

func (s *MemoryStore) GetPersonByUsername(ctx context.Context, username string) (*models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.persons {
		if p.Username == username {
			out := clonePerson(p)
			return &out, nil
		}
	}
	return nil, notFound("person")
}

func (s *MemoryStore) ListPersons(ctx context.Context) ([]models.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, clonePerson(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) DeletePerson(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.persons[id]; !ok {
		return notFound("person")
	}
	delete(s.persons, id)
	delete(s.references, id)
	for cid, c := range s.credentials {
		if c.PersonID == id {
			delete(s.credentials, cid)
		}
	}
	for cid, c := range s.complaints {
		switch {
		case c.AccusedID == id:
			delete(s.complaints, cid)
		case c.ReporterID != nil && *c.ReporterID == id:
			c.ReporterID = nil
			s.complaints[cid] = c
		}
	}
	return nil
}

func (s *MemoryStore) SetPhotoKey(ctx context.Context, id uuid.UUID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return notFound("person")
	}
	p.PhotoKey = key
	p.UpdatedAt = s.now()
	s.persons[id] = p
	return nil
}

func (s *MemoryStore) UpdateSuspension(ctx context.Context, id uuid.UUID, fn SuspensionFunc) (models.Suspension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.persons[id]
	if !ok {
		return models.Suspension{}, notFound("person")
	}
	next, changed := fn(cloneSuspension(p.Suspension))
	if !changed {
		return cloneSuspension(p.Suspension), nil
	}
	p.Suspension = cloneSuspension(next)
	p.UpdatedAt = s.now()
	s.persons[id] = p
	return cloneSuspension(next), nil
}

func (s *MemoryStore) ListExpiredSuspensions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, p := range s.persons {
		if p.Suspension.Suspended && p.Suspension.Until != nil && now.After(*p.Suspension.Until) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// --- Events ---

func (s *MemoryStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createEventLocked(ev)
}

func (s *MemoryStore) createEventLocked(ev *models.Event) error {
	for _, existing := range s.events {
		if existing.Name == ev.Name {
			return apperr.Newf(apperr.ErrConflict, "event %q already exists", ev.Name)
		}
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = s.now()
	s.events[ev.ID] = *ev
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return nil, notFound("event")
	}
	return &ev, nil
}

func (s *MemoryStore) GetEventByName(ctx context.Context, name string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.eventByNameLocked(name); ok {
		return &ev, nil
	}
	return nil, notFound("event")
}

func (s *MemoryStore) eventByNameLocked(name string) (models.Event, bool) {
	for _, ev := range s.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return models.Event{}, false
}

func (s *MemoryStore) GetOrCreateEvent(ctx context.Context, name string) (*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev, ok := s.eventByNameLocked(name); ok {
		return &ev, nil
	}
	ev := &models.Event{Name: name}
	if err := s.createEventLocked(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *MemoryStore) ListEvents(ctx context.Context) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Credentials ---

func (s *MemoryStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.persons[c.PersonID]; !ok {
		return notFound("person")
	}
	if _, ok := s.events[c.EventID]; !ok {
		return notFound("event")
	}
	for _, existing := range s.credentials {
		if existing.Token == c.Token {
			return ErrDuplicateToken
		}
		if existing.Active && existing.PersonID == c.PersonID && existing.EventID == c.EventID {
			return apperr.New(apperr.ErrConflict, "an active credential already exists for this person and event")
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Active = true
	s.credentials[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetCredentialByToken(ctx context.Context, token string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.credentials {
		if c.Token == token && c.Active {
			out := c
			return &out, nil
		}
	}
	return nil, notFound("credential")
}

func (s *MemoryStore) GetActiveCredential(ctx context.Context, personID, eventID uuid.UUID) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.credentials {
		if c.Active && c.PersonID == personID && c.EventID == eventID {
			out := c
			return &out, nil
		}
	}
	return nil, notFound("credential")
}

func (s *MemoryStore) DeactivateCredential(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok || !c.Active {
		return notFound("credential")
	}
	c.Active = false
	c.RevokedAt = &at
	s.credentials[id] = c
	return nil
}

func (s *MemoryStore) ListActiveCredentials(ctx context.Context, personID uuid.UUID) ([]models.CredentialView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.CredentialView{}
	for _, c := range s.credentials {
		if c.Active && c.PersonID == personID {
			out = append(out, models.CredentialView{Credential: c, EventName: s.events[c.EventID].Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// --- Biometric references ---

func (s *MemoryStore) UpsertReference(ctx context.Context, ref *models.BiometricReference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.persons[ref.PersonID]; !ok {
		return notFound("person")
	}
	if existing, ok := s.references[ref.PersonID]; ok {
		ref.ID = existing.ID
	} else if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	ref.CreatedAt = s.now()
	stored := *ref
	stored.Embedding = append([]float32(nil), ref.Embedding...)
	s.references[ref.PersonID] = stored
	return nil
}

func (s *MemoryStore) GetReference(ctx context.Context, personID uuid.UUID) (*models.BiometricReference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.references[personID]
	if !ok {
		return nil, notFound("biometric reference")
	}
	return &ref, nil
}

func (s *MemoryStore) DeleteReference(ctx context.Context, personID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.references[personID]; !ok {
		return notFound("biometric reference")
	}
	delete(s.references, personID)
	return nil
}

func (s *MemoryStore) CountReferences(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.references), nil
}

func (s *MemoryStore) SearchReferences(ctx context.Context, embedding []float32, threshold float64, limit int) ([]models.ReferenceMatch, error) {
	s.mu.Lock()
	candidates := make([]scored, 0, len(s.references))
	for _, ref := range s.references {
		candidates = append(candidates, scored{personID: ref.PersonID, imageKey: ref.ImageKey, embedding: ref.Embedding})
	}
	s.mu.Unlock()

	return rankReferences(candidates, embedding, threshold, limit), nil
}

// PutReferenceUnchecked stores a reference without the person check. Tests use
// it to simulate an index row whose person has vanished.
func (s *MemoryStore) PutReferenceUnchecked(ref models.BiometricReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	s.references[ref.PersonID] = ref
}

// --- Complaints ---

func (s *MemoryStore) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.persons[c.AccusedID]; !ok {
		return notFound("person")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ComplaintPending
	}
	c.CreatedAt = s.now()
	s.complaints[c.ID] = *c
	return nil
}

func (s *MemoryStore) GetComplaint(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.complaints[id]
	if !ok {
		return nil, notFound("complaint")
	}
	return &c, nil
}

func (s *MemoryStore) ListComplaints(ctx context.Context, reporterID *uuid.UUID) ([]models.Complaint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Complaint{}
	for _, c := range s.complaints {
		if reporterID != nil && (c.ReporterID == nil || *c.ReporterID != *reporterID) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateComplaintStatus(ctx context.Context, id uuid.UUID, status models.ComplaintStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.complaints[id]
	if !ok {
		return notFound("complaint")
	}
	c.Status = status
	s.complaints[id] = c
	return nil
}

func (s *MemoryStore) DeleteComplaint(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.complaints[id]; !ok {
		return notFound("complaint")
	}
	delete(s.complaints, id)
	return nil
}

// --- Access log ---

func (s *MemoryStore) RecordAccessEvent(ctx context.Context, ev models.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	s.accessLog = append(s.accessLog, ev)
	return nil
}

func (s *MemoryStore) ListAccessEvents(ctx context.Context, limit int) ([]models.AccessEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.accessLog) {
		limit = len(s.accessLog)
	}
	out := make([]models.AccessEvent, 0, limit)
	for i := len(s.accessLog) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.accessLog[i])
	}
	return out, nil
}

func clonePerson(p models.Person) models.Person {
	p.Suspension = cloneSuspension(p.Suspension)
	return p
}

func cloneSuspension(s models.Suspension) models.Suspension {
	if s.Until != nil {
		t := *s.Until
		s.Until = &t
	}
	return s
}
