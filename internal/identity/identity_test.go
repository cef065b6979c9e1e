package identity_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/biometric/biometrictest"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name          string
		in            models.Suspension
		wantNext      models.Suspension
		wantSuspended bool
	}{
		{"active", models.Suspension{}, models.Suspension{}, false},
		{"indefinite", models.Suspension{Suspended: true}, models.Suspension{Suspended: true}, true},
		{"timed and running", models.Suspension{Suspended: true, Until: &future}, models.Suspension{Suspended: true, Until: &future}, true},
		{"timed and expired", models.Suspension{Suspended: true, Until: &past}, models.Suspension{}, false},
		{"expiring exactly now", models.Suspension{Suspended: true, Until: &now}, models.Suspension{Suspended: true, Until: &now}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, suspended := identity.Evaluate(tt.in, now)
			assert.Equal(t, tt.wantSuspended, suspended)
			assert.True(t, tt.wantNext.Equal(next), "next = %+v", next)
		})
	}
}

var (
	admin  = access.Actor{Subject: "root", Role: access.RoleAdmin}
	gate   = access.Actor{Subject: "gate-1", Role: access.RoleCheckpoint}
	alice  = access.Actor{Subject: "alice", Role: access.RoleMember}
	mallet = access.Actor{Subject: "mallory", Role: access.RoleMember}
)

type IdentitySuite struct {
	suite.Suite
	ctx     context.Context
	store   *storage.MemoryStore
	objects *storage.MemoryObjectStore
	encoder *biometrictest.Encoder
	svc     *identity.Service
	now     time.Time
}

func TestIdentitySuite(t *testing.T) {
	suite.Run(t, new(IdentitySuite))
}

func (s *IdentitySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.objects = storage.NewMemoryObjectStore()
	s.encoder = biometrictest.NewEncoder()
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.svc = identity.New(s.store, s.objects, s.encoder, access.DefaultPolicy(),
		identity.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		identity.WithClock(func() time.Time { return s.now }),
		identity.WithMaxPhotoBytes(1024),
	)
}

func (s *IdentitySuite) register(actor access.Actor) *models.Person {
	p, err := s.svc.Register(s.ctx, actor, identity.Profile{DisplayName: actor.Subject, Email: actor.Subject + "@example.org"})
	s.Require().NoError(err)
	return p
}

func (s *IdentitySuite) TestRegister() {
	p := s.register(alice)
	s.Equal("alice", p.Username)
	s.Equal(models.CategoryAttendee, p.Category)

	_, err := s.svc.Register(s.ctx, alice, identity.Profile{})
	s.ErrorIs(err, apperr.ErrConflict)

	_, err = s.svc.Register(s.ctx, mallet, identity.Profile{Category: "vip"})
	s.ErrorIs(err, apperr.ErrInvalidInput)

	me, err := s.svc.Me(s.ctx, alice)
	s.Require().NoError(err)
	s.Equal(p.ID, me.ID)
}

func (s *IdentitySuite) TestSuspendDurations() {
	s.register(alice)

	s.Run("timed", func() {
		p, err := s.svc.SetSuspension(s.ctx, admin, "alice", identity.ActionSuspend, "2")
		s.Require().NoError(err)
		s.True(p.Suspension.Suspended)
		s.Require().NotNil(p.Suspension.Until)
		s.Equal(s.now.Add(2*time.Hour), *p.Suspension.Until)
	})

	s.Run("indefinite", func() {
		p, err := s.svc.Suspend(s.ctx, admin, "alice", "")
		s.Require().NoError(err)
		s.True(p.Suspension.Indefinite())
	})

	s.Run("rejects bad durations", func() {
		for _, d := range []string{"0", "-3", "1.5", "soon"} {
			_, err := s.svc.Suspend(s.ctx, admin, "alice", d)
			s.ErrorIs(err, apperr.ErrInvalidInput, d)
		}
	})

	s.Run("unsuspend clears", func() {
		p, err := s.svc.SetSuspension(s.ctx, admin, "alice", identity.ActionUnsuspend, "")
		s.Require().NoError(err)
		s.False(p.Suspension.Suspended)
		s.Nil(p.Suspension.Until)
	})

	s.Run("unknown action", func() {
		_, err := s.svc.SetSuspension(s.ctx, admin, "alice", "ban", "")
		s.ErrorIs(err, apperr.ErrInvalidInput)
	})

	s.Run("members cannot suspend", func() {
		_, err := s.svc.Suspend(s.ctx, alice, "alice", "")
		s.ErrorIs(err, apperr.ErrForbidden)
	})
}

func (s *IdentitySuite) TestSuspendBootstrapsMissingPerson() {
	p, err := s.svc.Suspend(s.ctx, admin, "newcomer", "")
	s.Require().NoError(err)
	s.Equal(models.CategoryAttendee, p.Category)

	stored, err := s.store.GetPersonByUsername(s.ctx, "newcomer")
	s.Require().NoError(err)
	s.True(stored.Suspension.Indefinite())
}

func (s *IdentitySuite) TestResolveStandingClearsExpiredOnce() {
	s.register(alice)
	_, err := s.svc.Suspend(s.ctx, admin, "alice", "1")
	s.Require().NoError(err)

	p, err := s.store.GetPersonByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	suspended, err := s.svc.ResolveStanding(s.ctx, p)
	s.Require().NoError(err)
	s.True(suspended)

	s.now = s.now.Add(61 * time.Minute)
	suspended, err = s.svc.ResolveStanding(s.ctx, p)
	s.Require().NoError(err)
	s.False(suspended)
	s.False(p.Suspension.Suspended)

	stored, err := s.store.GetPersonByUsername(s.ctx, "alice")
	s.Require().NoError(err)
	s.False(stored.Suspension.Suspended)
	s.Nil(stored.Suspension.Until)

	suspended, err = s.svc.ResolveStanding(s.ctx, stored)
	s.Require().NoError(err)
	s.False(suspended)
}

func (s *IdentitySuite) TestSweepExpired() {
	s.register(alice)
	s.register(mallet)
	_, err := s.svc.Suspend(s.ctx, admin, "alice", "1")
	s.Require().NoError(err)
	_, err = s.svc.Suspend(s.ctx, admin, "mallory", "")
	s.Require().NoError(err)

	n, err := s.svc.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.now = s.now.Add(2 * time.Hour)
	n, err = s.svc.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	m, err := s.store.GetPersonByUsername(s.ctx, "mallory")
	s.Require().NoError(err)
	s.True(m.Suspension.Indefinite())
}

func (s *IdentitySuite) TestSetPhoto() {
	p := s.register(alice)

	s.Run("no face stores nothing", func() {
		_, err := s.svc.SetPhoto(s.ctx, alice, bytes.NewReader([]byte("landscape")))
		s.ErrorIs(err, apperr.ErrNoFaceDetected)
		s.ErrorIs(err, apperr.ErrInvalidInput)

		_, err = s.store.GetReference(s.ctx, p.ID)
		s.ErrorIs(err, apperr.ErrNotFound)
	})

	s.Run("oversized photo", func() {
		_, err := s.svc.SetPhoto(s.ctx, alice, bytes.NewReader(make([]byte, 2048)))
		s.ErrorIs(err, apperr.ErrInvalidInput)
	})

	var firstKey string
	s.Run("stores image and reference", func() {
		img := s.encoder.Face("alice-1", biometrictest.Vector(0))
		ref, err := s.svc.SetPhoto(s.ctx, alice, bytes.NewReader(img))
		s.Require().NoError(err)
		s.True(s.objects.Has(ref.ImageKey))
		firstKey = ref.ImageKey

		stored, err := s.store.GetPersonByUsername(s.ctx, "alice")
		s.Require().NoError(err)
		s.Equal(ref.ImageKey, stored.PhotoKey)
	})

	s.Run("replacing overwrites the single reference", func() {
		img := s.encoder.Face("alice-2", biometrictest.Vector(1))
		ref, err := s.svc.SetPhoto(s.ctx, alice, bytes.NewReader(img))
		s.Require().NoError(err)
		s.False(s.objects.Has(firstKey))

		count, err := s.store.CountReferences(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, count)

		got, err := s.store.GetReference(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(ref.ImageKey, got.ImageKey)
	})
}

func (s *IdentitySuite) TestPhotoAccess() {
	s.register(alice)
	s.register(mallet)
	img := s.encoder.Face("alice-face", biometrictest.Vector(0))
	_, err := s.svc.SetPhoto(s.ctx, alice, bytes.NewReader(img))
	s.Require().NoError(err)

	data, _, err := s.svc.Photo(s.ctx, alice, "alice")
	s.Require().NoError(err)
	s.Equal(img, data)

	_, _, err = s.svc.Photo(s.ctx, gate, "alice")
	s.NoError(err)

	_, _, err = s.svc.Photo(s.ctx, mallet, "alice")
	s.ErrorIs(err, apperr.ErrForbidden)

	_, _, err = s.svc.Photo(s.ctx, mallet, "mallory")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *IdentitySuite) TestDeleteAccount() {
	p := s.register(alice)
	reporter := s.register(mallet)
	img := s.encoder.Face("alice-face", biometrictest.Vector(0))
	ref, err := s.svc.SetPhoto(s.ctx, alice, bytes.NewReader(img))
	s.Require().NoError(err)

	s.Require().NoError(s.objects.PutObject(s.ctx, "complaints/e.jpg", []byte("x"), "image/jpeg"))
	s.Require().NoError(s.store.CreateComplaint(s.ctx, &models.Complaint{
		AccusedID: p.ID, ReporterID: &reporter.ID, Text: "queue jumping", EvidenceKey: "complaints/e.jpg",
	}))

	s.ErrorIs(s.svc.DeleteAccount(s.ctx, gate, "alice"), apperr.ErrForbidden)
	s.Require().NoError(s.svc.DeleteAccount(s.ctx, admin, "alice"))

	s.False(s.objects.Has(ref.ImageKey))
	s.False(s.objects.Has("complaints/e.jpg"))
	_, err = s.store.GetPersonByUsername(s.ctx, "alice")
	s.ErrorIs(err, apperr.ErrNotFound)

	people, err := s.svc.ListPeople(s.ctx, admin)
	s.Require().NoError(err)
	s.Len(people, 1)
}

func (s *IdentitySuite) TestEvents() {
	ev, err := s.svc.CreateEvent(s.ctx, admin, "Main Gate", nil, true)
	s.Require().NoError(err)
	s.True(ev.Persistent)

	_, err = s.svc.CreateEvent(s.ctx, admin, "Main Gate", nil, true)
	s.ErrorIs(err, apperr.ErrConflict)

	_, err = s.svc.CreateEvent(s.ctx, admin, " ", nil, false)
	s.ErrorIs(err, apperr.ErrInvalidInput)

	_, err = s.svc.ListEvents(s.ctx, gate)
	s.ErrorIs(err, apperr.ErrForbidden)

	events, err := s.svc.ListEvents(s.ctx, admin)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func TestSummarize(t *testing.T) {
	p := &models.Person{Username: "alice", DisplayName: "Alice", Category: models.CategoryStaff, PhotoKey: "photos/x.jpg"}
	sum := identity.Summarize(p)
	require.Equal(t, "Alice", sum.Name)
	require.Equal(t, "/v1/persons/alice/photo", sum.PhotoURL)

	p.PhotoKey = ""
	require.Empty(t, identity.Summarize(p).PhotoURL)
}
