package complaint_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/apperr"
	"github.com/your-org/passgate/internal/complaint"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
)

var (
	admin = access.Actor{Subject: "root", Role: access.RoleAdmin}
	ken   = access.Actor{Subject: "ken", Role: access.RoleMember}
	lena  = access.Actor{Subject: "lena", Role: access.RoleMember}
)

type ComplaintSuite struct {
	suite.Suite
	ctx     context.Context
	store   *storage.MemoryStore
	objects *storage.MemoryObjectStore
	svc     *complaint.Service
}

func TestComplaintSuite(t *testing.T) {
	suite.Run(t, new(ComplaintSuite))
}

func (s *ComplaintSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = storage.NewMemoryStore()
	s.objects = storage.NewMemoryObjectStore()
	s.svc = complaint.New(s.store, s.objects, access.DefaultPolicy(),
		complaint.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		complaint.WithMaxEvidenceBytes(64),
	)
	for _, u := range []string{"ken", "lena", "mallory"} {
		s.Require().NoError(s.store.CreatePerson(s.ctx, &models.Person{Username: u, Category: models.CategoryAttendee}))
	}
}

func (s *ComplaintSuite) TestFile() {
	s.Run("pending with evidence", func() {
		c, err := s.svc.File(s.ctx, ken, "mallory", "cut the queue", &complaint.Evidence{
			Data: strings.NewReader("\xff\xd8\xff\xe0 fake jpeg"), ContentType: "image/jpeg",
		})
		s.Require().NoError(err)
		s.Equal(models.ComplaintPending, c.Status)
		s.Equal("complaints/"+c.ID.String(), c.EvidenceKey)
		s.True(s.objects.Has(c.EvidenceKey))
	})

	s.Run("text required", func() {
		_, err := s.svc.File(s.ctx, ken, "mallory", "   ", nil)
		s.ErrorIs(err, apperr.ErrInvalidInput)
	})

	s.Run("accused must exist", func() {
		_, err := s.svc.File(s.ctx, ken, "ghost", "boo", nil)
		s.ErrorIs(err, apperr.ErrNotFound)
	})

	s.Run("reporter without a profile", func() {
		gate := access.Actor{Subject: "gate-1", Role: access.RoleCheckpoint}
		c, err := s.svc.File(s.ctx, gate, "mallory", "forced the turnstile", nil)
		s.Require().NoError(err)

		reporter, err := s.store.GetPersonByUsername(s.ctx, "gate-1")
		s.Require().NoError(err)
		s.Equal(models.CategoryStaff, reporter.Category)
		s.Require().NotNil(c.ReporterID)
		s.Equal(reporter.ID, *c.ReporterID)

		mine, err := s.svc.List(s.ctx, gate)
		s.Require().NoError(err)
		s.Require().Len(mine, 1)
		s.Equal(c.ID, mine[0].ID)

		_, err = s.svc.File(s.ctx, gate, "mallory", "again at lane 3", nil)
		s.Require().NoError(err)
		persons, err := s.store.ListPersons(s.ctx)
		s.Require().NoError(err)
		s.Len(persons, 4, "reporter bootstrapped once")
	})

	s.Run("evidence must be a small image", func() {
		_, err := s.svc.File(s.ctx, ken, "mallory", "x", &complaint.Evidence{Data: strings.NewReader("plain text")})
		s.ErrorIs(err, apperr.ErrInvalidInput)

		_, err = s.svc.File(s.ctx, ken, "mallory", "x", &complaint.Evidence{
			Data: strings.NewReader(strings.Repeat("a", 100)), ContentType: "image/png",
		})
		s.ErrorIs(err, apperr.ErrInvalidInput)
	})
}

func (s *ComplaintSuite) TestVisibility() {
	_, err := s.svc.File(s.ctx, ken, "mallory", "one", nil)
	s.Require().NoError(err)
	_, err = s.svc.File(s.ctx, lena, "mallory", "two", nil)
	s.Require().NoError(err)

	all, err := s.svc.List(s.ctx, admin)
	s.Require().NoError(err)
	s.Len(all, 2)

	mine, err := s.svc.List(s.ctx, ken)
	s.Require().NoError(err)
	s.Require().Len(mine, 1)
	s.Equal("one", mine[0].Text)

	none, err := s.svc.List(s.ctx, access.Actor{Subject: "nobody", Role: access.RoleCheckpoint})
	s.Require().NoError(err)
	s.Empty(none)

	_, err = s.svc.List(s.ctx, access.Actor{})
	s.ErrorIs(err, apperr.ErrUnauthenticated)
}

func (s *ComplaintSuite) TestStatusAndDelete() {
	c, err := s.svc.File(s.ctx, ken, "mallory", "one", &complaint.Evidence{
		Data: strings.NewReader("\x89PNG\r\n\x1a\n"), ContentType: "image/png",
	})
	s.Require().NoError(err)

	_, err = s.svc.SetStatus(s.ctx, ken, c.ID, models.ComplaintResolved)
	s.ErrorIs(err, apperr.ErrForbidden)

	_, err = s.svc.SetStatus(s.ctx, admin, c.ID, models.ComplaintPending)
	s.ErrorIs(err, apperr.ErrInvalidInput)

	got, err := s.svc.SetStatus(s.ctx, admin, c.ID, models.ComplaintDismissed)
	s.Require().NoError(err)
	s.Equal(models.ComplaintDismissed, got.Status)

	data, _, err := s.svc.Evidence(s.ctx, ken, c.ID)
	s.Require().NoError(err)
	s.NotEmpty(data)
	_, _, err = s.svc.Evidence(s.ctx, lena, c.ID)
	s.ErrorIs(err, apperr.ErrForbidden)

	s.ErrorIs(s.svc.Delete(s.ctx, ken, c.ID), apperr.ErrForbidden)
	s.Require().NoError(s.svc.Delete(s.ctx, admin, c.ID))
	s.False(s.objects.Has(c.EvidenceKey))
	s.ErrorIs(s.svc.Delete(s.ctx, admin, uuid.New()), apperr.ErrNotFound)
}
