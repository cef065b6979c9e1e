package storage_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
)

// StoreContractSuite exercises behaviour every Store backend must share.
// Backends embed it and supply newStore.
type StoreContractSuite struct {
	suite.Suite
	newStore func() storage.Store
	store    storage.Store
	ctx      context.Context
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func (s *StoreContractSuite) TearDownTest() {
	s.store.Close()
}

func (s *StoreContractSuite) person(username string) *models.Person {
	p := &models.Person{Username: username, DisplayName: username, Category: models.CategoryAttendee}
	s.Require().NoError(s.store.CreatePerson(s.ctx, p))
	return p
}

func (s *StoreContractSuite) event(name string) *models.Event {
	ev, err := s.store.GetOrCreateEvent(s.ctx, name)
	s.Require().NoError(err)
	return ev
}

func (s *StoreContractSuite) credential(p *models.Person, ev *models.Event, token string) (*models.Credential, error) {
	c := &models.Credential{PersonID: p.ID, EventID: ev.ID, Token: token, IssuedAt: time.Now().UTC()}
	return c, s.store.CreateCredential(s.ctx, c)
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func (s *StoreContractSuite) TestPersons() {
	s.Run("duplicate username is a conflict", func() {
		s.person("alice")
		err := s.store.CreatePerson(s.ctx, &models.Person{Username: "alice", Category: models.CategoryGuest})
		s.ErrorIs(err, apperr.ErrConflict)
	})

	s.Run("lookup by username and id", func() {
		p := s.person("bob")
		byName, err := s.store.GetPersonByUsername(s.ctx, "bob")
		s.Require().NoError(err)
		s.Equal(p.ID, byName.ID)

		byID, err := s.store.GetPerson(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal("bob", byID.Username)
		s.False(byID.Suspension.Suspended)
	})

	s.Run("missing person is not found", func() {
		_, err := s.store.GetPersonByUsername(s.ctx, "nobody")
		s.ErrorIs(err, apperr.ErrNotFound)
	})
}

func (s *StoreContractSuite) TestUpdateSuspension() {
	p := s.person("carol")
	until := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)

	got, err := s.store.UpdateSuspension(s.ctx, p.ID, func(cur models.Suspension) (models.Suspension, bool) {
		return models.Suspension{Suspended: true, Until: &until}, true
	})
	s.Require().NoError(err)
	s.True(got.Suspended)
	s.Require().NotNil(got.Until)
	s.True(got.Until.Equal(until))

	s.Run("unchanged transition does not write", func() {
		calls := 0
		got, err := s.store.UpdateSuspension(s.ctx, p.ID, func(cur models.Suspension) (models.Suspension, bool) {
			calls++
			return cur, false
		})
		s.Require().NoError(err)
		s.Equal(1, calls)
		s.True(got.Suspended)
	})

	s.Run("expired suspensions are listed", func() {
		ids, err := s.store.ListExpiredSuspensions(s.ctx, until.Add(time.Minute))
		s.Require().NoError(err)
		s.Contains(ids, p.ID)

		ids, err = s.store.ListExpiredSuspensions(s.ctx, until.Add(-time.Minute))
		s.Require().NoError(err)
		s.NotContains(ids, p.ID)
	})

	s.Run("unknown person", func() {
		_, err := s.store.UpdateSuspension(s.ctx, uuid.New(), func(cur models.Suspension) (models.Suspension, bool) {
			return cur, false
		})
		s.ErrorIs(err, apperr.ErrNotFound)
	})
}

func (s *StoreContractSuite) TestEvents() {
	a := s.event("Main Gate")
	b := s.event("Main Gate")
	s.Equal(a.ID, b.ID)

	err := s.store.CreateEvent(s.ctx, &models.Event{Name: "Main Gate", Persistent: true})
	s.ErrorIs(err, apperr.ErrConflict)

	events, err := s.store.ListEvents(s.ctx)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *StoreContractSuite) TestCredentialUniqueness() {
	p := s.person("dave")
	ev := s.event("Hackathon 2026")

	first, err := s.credential(p, ev, "PG-ONE")
	s.Require().NoError(err)

	_, err = s.credential(p, ev, "PG-TWO")
	s.ErrorIs(err, apperr.ErrConflict)
	s.NotErrorIs(err, storage.ErrDuplicateToken)

	s.Run("token collision is distinguishable", func() {
		other := s.person("erin")
		_, err := s.credential(other, ev, "PG-ONE")
		s.ErrorIs(err, storage.ErrDuplicateToken)
	})

	s.Run("deactivation frees the pair and hides the token", func() {
		s.Require().NoError(s.store.DeactivateCredential(s.ctx, first.ID, time.Now().UTC()))

		_, err := s.store.GetCredentialByToken(s.ctx, "PG-ONE")
		s.ErrorIs(err, apperr.ErrNotFound)

		err = s.store.DeactivateCredential(s.ctx, first.ID, time.Now().UTC())
		s.ErrorIs(err, apperr.ErrNotFound)

		_, err = s.credential(p, ev, "PG-THREE")
		s.NoError(err)
	})

	s.Run("revoked token is never reusable", func() {
		other := s.person("frank")
		_, err := s.credential(other, ev, "PG-ONE")
		s.ErrorIs(err, storage.ErrDuplicateToken)
	})
}

func (s *StoreContractSuite) TestConcurrentCredentialCreation() {
	p := s.person("grace")
	ev := s.event("Main Gate")

	const workers = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
		unknown   atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := s.credential(p, ev, "PG-"+uuid.NewString())
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperr.ErrConflict):
				conflicts.Add(1)
			default:
				unknown.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(workers-1), conflicts.Load())
	s.Zero(unknown.Load())
}

func (s *StoreContractSuite) TestListActiveCredentials() {
	p := s.person("heidi")
	gate := s.event("Main Gate")
	hack := s.event("Hackathon 2026")

	_, err := s.credential(p, gate, "PG-GATE")
	s.Require().NoError(err)
	_, err = s.credential(p, hack, "PG-HACK")
	s.Require().NoError(err)

	views, err := s.store.ListActiveCredentials(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Len(views, 2)

	names := []string{views[0].EventName, views[1].EventName}
	s.ElementsMatch([]string{"Main Gate", "Hackathon 2026"}, names)

	empty, err := s.store.ListActiveCredentials(s.ctx, uuid.New())
	s.Require().NoError(err)
	s.NotNil(empty)
	s.Empty(empty)
}

func (s *StoreContractSuite) TestReferences() {
	alice := s.person("alice")
	bob := s.person("bob")

	count, err := s.store.CountReferences(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)

	s.Require().NoError(s.store.UpsertReference(s.ctx, &models.BiometricReference{
		PersonID: alice.ID, ImageKey: "photos/alice-1.jpg", Embedding: unitVector(512, 0),
	}))
	s.Require().NoError(s.store.UpsertReference(s.ctx, &models.BiometricReference{
		PersonID: bob.ID, ImageKey: "photos/bob.jpg", Embedding: unitVector(512, 1),
	}))

	s.Run("upsert overwrites the single reference", func() {
		s.Require().NoError(s.store.UpsertReference(s.ctx, &models.BiometricReference{
			PersonID: alice.ID, ImageKey: "photos/alice-2.jpg", Embedding: unitVector(512, 0),
		}))
		count, err := s.store.CountReferences(s.ctx)
		s.Require().NoError(err)
		s.Equal(2, count)

		ref, err := s.store.GetReference(s.ctx, alice.ID)
		s.Require().NoError(err)
		s.Equal("photos/alice-2.jpg", ref.ImageKey)
		s.Len(ref.Embedding, 512)
	})

	s.Run("search ranks by similarity above threshold", func() {
		probe := unitVector(512, 0)
		probe[1] = 0.2

		matches, err := s.store.SearchReferences(s.ctx, probe, 0.5, 5)
		s.Require().NoError(err)
		s.Require().Len(matches, 1)
		s.Equal(alice.ID, matches[0].PersonID)
		s.InDelta(0.98, matches[0].Score, 0.01)

		matches, err = s.store.SearchReferences(s.ctx, probe, 0.1, 5)
		s.Require().NoError(err)
		s.Require().Len(matches, 2)
		s.Equal(alice.ID, matches[0].PersonID)
		s.Equal(bob.ID, matches[1].PersonID)
	})

	s.Run("no candidate above threshold", func() {
		matches, err := s.store.SearchReferences(s.ctx, unitVector(512, 7), 0.4, 5)
		s.Require().NoError(err)
		s.Empty(matches)
	})
}

func (s *StoreContractSuite) TestDeletePersonCascades() {
	accused := s.person("ivan")
	reporter := s.person("judy")
	ev := s.event("Main Gate")

	_, err := s.credential(accused, ev, "PG-IVAN")
	s.Require().NoError(err)
	s.Require().NoError(s.store.UpsertReference(s.ctx, &models.BiometricReference{
		PersonID: accused.ID, ImageKey: "photos/ivan.jpg", Embedding: unitVector(512, 3),
	}))

	against := &models.Complaint{AccusedID: accused.ID, ReporterID: &reporter.ID, Text: "pushed past the gate"}
	s.Require().NoError(s.store.CreateComplaint(s.ctx, against))
	byIvan := &models.Complaint{AccusedID: reporter.ID, ReporterID: &accused.ID, Text: "retaliation"}
	s.Require().NoError(s.store.CreateComplaint(s.ctx, byIvan))

	s.Require().NoError(s.store.DeletePerson(s.ctx, accused.ID))

	_, err = s.store.GetCredentialByToken(s.ctx, "PG-IVAN")
	s.ErrorIs(err, apperr.ErrNotFound)

	_, err = s.store.GetReference(s.ctx, accused.ID)
	s.ErrorIs(err, apperr.ErrNotFound)

	_, err = s.store.GetComplaint(s.ctx, against.ID)
	s.ErrorIs(err, apperr.ErrNotFound)

	kept, err := s.store.GetComplaint(s.ctx, byIvan.ID)
	s.Require().NoError(err)
	s.Nil(kept.ReporterID)

	s.ErrorIs(s.store.DeletePerson(s.ctx, accused.ID), apperr.ErrNotFound)
}

func (s *StoreContractSuite) TestComplaints() {
	accused := s.person("mallory")
	r1 := s.person("ken")
	r2 := s.person("lena")

	c1 := &models.Complaint{AccusedID: accused.ID, ReporterID: &r1.ID, Text: "one"}
	s.Require().NoError(s.store.CreateComplaint(s.ctx, c1))
	s.Equal(models.ComplaintPending, c1.Status)
	c2 := &models.Complaint{AccusedID: accused.ID, ReporterID: &r2.ID, Text: "two", EvidenceKey: "complaints/x.jpg"}
	s.Require().NoError(s.store.CreateComplaint(s.ctx, c2))

	all, err := s.store.ListComplaints(s.ctx, nil)
	s.Require().NoError(err)
	s.Len(all, 2)

	mine, err := s.store.ListComplaints(s.ctx, &r1.ID)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal(c1.ID, mine[0].ID)

	s.Require().NoError(s.store.UpdateComplaintStatus(s.ctx, c1.ID, models.ComplaintResolved))
	got, err := s.store.GetComplaint(s.ctx, c1.ID)
	s.Require().NoError(err)
	s.Equal(models.ComplaintResolved, got.Status)

	s.Require().NoError(s.store.DeleteComplaint(s.ctx, c2.ID))
	s.ErrorIs(s.store.DeleteComplaint(s.ctx, c2.ID), apperr.ErrNotFound)

	err = s.store.CreateComplaint(s.ctx, &models.Complaint{AccusedID: uuid.New(), Text: "ghost"})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *StoreContractSuite) TestAccessLog() {
	p := s.person("niaj")
	ev := s.event("Main Gate")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, reason := range []string{models.ReasonInvalidCode, models.ReasonGranted} {
		rec := models.AccessEvent{
			Path:      models.PathToken,
			Granted:   reason == models.ReasonGranted,
			Reason:    reason,
			Actor:     "gate-1",
			DecidedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if rec.Granted {
			rec.PersonID, rec.EventID = &p.ID, &ev.ID
		}
		s.Require().NoError(s.store.RecordAccessEvent(s.ctx, rec))
	}

	events, err := s.store.ListAccessEvents(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(models.ReasonGranted, events[0].Reason)
	s.True(events[0].Granted)
	s.Require().NotNil(events[0].PersonID)
	s.Equal(p.ID, *events[0].PersonID)
	s.Nil(events[1].PersonID)
}
