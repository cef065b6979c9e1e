package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/your-org/passgate/internal/access"
	"github.com/your-org/passgate/internal/api"
	"github.com/your-org/passgate/internal/api/handlers"
	"github.com/your-org/passgate/internal/api/ws"
	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/biometric"
	"github.com/your-org/passgate/internal/biometric/biometrictest"
	"github.com/your-org/passgate/internal/complaint"
	"github.com/your-org/passgate/internal/credential"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/storage"
	"github.com/your-org/passgate/internal/verify"
	"github.com/your-org/passgate/pkg/dto"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

type APISuite struct {
	suite.Suite
	store   *storage.MemoryStore
	encoder *biometrictest.Encoder
	hub     *ws.Hub
	server  *httptest.Server
	cancel  context.CancelFunc
	down    atomic.Bool

	admin, gate, alice, bob string
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := access.DefaultPolicy()

	s.store = storage.NewMemoryStore()
	objects := storage.NewMemoryObjectStore()
	s.encoder = biometrictest.NewEncoder()
	s.hub = ws.NewHub()
	s.down.Store(false)

	registry := credential.NewRegistry(s.store, policy, "Hackathon 2026", credential.WithLogger(logger))
	people := identity.New(s.store, objects, s.encoder, policy, identity.WithLogger(logger))
	complaints := complaint.New(s.store, objects, policy, complaint.WithLogger(logger))
	engine := verify.New(registry, people, s.store, s.encoder,
		biometric.NewMatcher(s.store, 0.4), policy,
		verify.Config{
			Timeout:       5 * time.Second,
			GateBiometric: true,
			SpoolDir:      s.T().TempDir(),
			MaxProbeBytes: 1 << 20,
		},
		verify.WithAccessLog(s.store),
		verify.WithPublisher(s.hub),
		verify.WithLogger(logger),
	)

	tokens := auth.NewTokens("test-secret", "passgate")
	router := api.NewRouter(api.RouterConfig{
		Tokens:     tokens,
		Policy:     policy,
		Store:      s.store,
		Registry:   registry,
		People:     people,
		Complaints: complaints,
		Engine:     engine,
		Hub:        s.hub,
		Checks: map[string]handlers.Check{
			"store": func(ctx context.Context) error {
				if s.down.Load() {
					return errors.New("connection refused")
				}
				return nil
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx)
	s.server = httptest.NewServer(router)

	s.admin = s.mint(tokens, "root", access.RoleAdmin)
	s.gate = s.mint(tokens, "gate-1", access.RoleCheckpoint)
	s.alice = s.mint(tokens, "alice", access.RoleMember)
	s.bob = s.mint(tokens, "bob", access.RoleMember)
}

func (s *APISuite) TearDownTest() {
	s.server.Close()
	s.cancel()
}

func (s *APISuite) mint(tokens *auth.Tokens, subject string, role access.Role) string {
	raw, err := tokens.Issue(subject, role, time.Hour)
	s.Require().NoError(err)
	return raw
}

func (s *APISuite) send(method, path, token, contentType string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, s.server.URL+path, body)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *APISuite) call(method, path, token string, body any) *http.Response {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		r = bytes.NewReader(data)
	}
	return s.send(method, path, token, "application/json", r)
}

// form builds a multipart body. Files are given as field -> (content type, data).
func (s *APISuite) form(fields map[string]string, files map[string][2]string) (string, io.Reader) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		s.Require().NoError(mw.WriteField(k, v))
	}
	for field, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload"`)
		h.Set("Content-Type", f[0])
		part, err := mw.CreatePart(h)
		s.Require().NoError(err)
		_, err = part.Write([]byte(f[1]))
		s.Require().NoError(err)
	}
	s.Require().NoError(mw.Close())
	return mw.FormDataContentType(), &buf
}

func (s *APISuite) decode(resp *http.Response, v any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *APISuite) register(token, name string) {
	resp := s.call(http.MethodPost, "/v1/me", token, dto.RegisterRequest{DisplayName: name, Category: models.CategoryAttendee})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
}

func (s *APISuite) verifyToken(token string) dto.VerificationResponse {
	resp := s.call(http.MethodPost, "/v1/verify/token", s.gate, dto.VerifyTokenRequest{Token: token})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var out dto.VerificationResponse
	s.decode(resp, &out)
	return out
}

func (s *APISuite) issue(username, event string) dto.IssueResponse {
	resp := s.call(http.MethodPost, "/v1/credentials/issue", s.admin, dto.CredentialRequest{Username: username, Event: event})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var out dto.IssueResponse
	s.decode(resp, &out)
	return out
}

func (s *APISuite) TestMainGateIssueVerifyRevoke() {
	s.register(s.alice, "Alice Liddell")

	issued := s.issue("alice", "Main Gate")
	s.Equal("Main Gate", issued.Event.Name)
	s.True(issued.Credential.Active)

	resp := s.call(http.MethodPost, "/v1/credentials/issue", s.admin, dto.CredentialRequest{Username: "alice", Event: "Main Gate"})
	s.Equal(http.StatusConflict, resp.StatusCode)

	granted := s.verifyToken(issued.Credential.Token)
	s.True(granted.Granted)
	s.Equal(models.ReasonGranted, granted.Reason)
	s.Equal("Alice Liddell", granted.Decision.Person.Name)
	s.Equal("Main Gate", granted.Decision.Event.Name)

	resp = s.call(http.MethodGet, "/v1/me/credentials", s.alice, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var mine dto.CredentialListResponse
	s.decode(resp, &mine)
	s.Equal(1, mine.Total)

	resp = s.call(http.MethodPost, "/v1/credentials/revoke", s.admin, dto.CredentialRequest{Username: "alice", Event: "Main Gate"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	denied := s.verifyToken(issued.Credential.Token)
	s.False(denied.Granted)
	s.Equal(models.ReasonInvalidCode, denied.Reason)
}

func (s *APISuite) TestErrorStatuses() {
	s.register(s.alice, "Alice")

	cases := []struct {
		name   string
		token  string
		path   string
		body   any
		status int
	}{
		{"missing token", "", "/v1/credentials/issue", dto.CredentialRequest{Username: "alice"}, http.StatusUnauthorized},
		{"checkpoint cannot issue", s.gate, "/v1/credentials/issue", dto.CredentialRequest{Username: "alice"}, http.StatusForbidden},
		{"unknown person", s.admin, "/v1/credentials/issue", dto.CredentialRequest{Username: "nobody"}, http.StatusNotFound},
		{"missing username", s.admin, "/v1/credentials/issue", map[string]string{}, http.StatusBadRequest},
		{"revoke without credential", s.admin, "/v1/credentials/revoke", dto.CredentialRequest{Username: "alice"}, http.StatusNotFound},
		{"member cannot verify", s.alice, "/v1/verify/token", dto.VerifyTokenRequest{Token: "PG-X"}, http.StatusForbidden},
		{"member with malformed token body", s.alice, "/v1/verify/token", map[string]string{}, http.StatusForbidden},
		{"member with no face image", s.alice, "/v1/verify/face", map[string]string{}, http.StatusForbidden},
		{"member with malformed suspension", s.alice, "/v1/persons/suspension", map[string]string{}, http.StatusForbidden},
		{"member with malformed issue", s.alice, "/v1/credentials/issue", map[string]string{}, http.StatusForbidden},
		{"missing token on malformed body", "", "/v1/verify/token", map[string]string{}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			resp := s.call(http.MethodPost, tc.path, tc.token, tc.body)
			s.Equal(tc.status, resp.StatusCode)
		})
	}

	s.Run("unknown token is a 200 denial", func() {
		out := s.verifyToken("PG-NOTREAL")
		s.False(out.Granted)
		s.Equal(models.ReasonInvalidCode, out.Reason)
	})
}

func (s *APISuite) TestSuspension() {
	s.register(s.alice, "Alice")
	issued := s.issue("alice", "")
	s.Equal("Hackathon 2026", issued.Event.Name)

	resp := s.call(http.MethodPost, "/v1/persons/suspension", s.admin, map[string]any{
		"username": "alice", "action": "suspend", "duration_hours": 2,
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var p models.Person
	s.decode(resp, &p)
	s.True(p.Suspension.Suspended)
	s.NotNil(p.Suspension.Until)

	s.Equal(models.ReasonSuspended, s.verifyToken(issued.Credential.Token).Reason)

	for name, body := range map[string]map[string]any{
		"fractional hours": {"username": "alice", "action": "suspend", "duration_hours": "1.5"},
		"negative hours":   {"username": "alice", "action": "suspend", "duration_hours": -3},
		"unknown action":   {"username": "alice", "action": "ban"},
	} {
		s.Run(name, func() {
			resp := s.call(http.MethodPost, "/v1/persons/suspension", s.admin, body)
			s.Equal(http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp = s.call(http.MethodPost, "/v1/persons/suspension", s.gate, map[string]any{"username": "alice", "action": "unsuspend"})
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.call(http.MethodPost, "/v1/persons/suspension", s.admin, map[string]any{"username": "alice", "action": "unsuspend"})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.True(s.verifyToken(issued.Credential.Token).Granted)
}

func (s *APISuite) TestFaceVerification() {
	s.register(s.alice, "Alice Liddell")
	s.issue("alice", "Main Gate")

	photo := string(s.encoder.Face("alice-profile", biometrictest.Vector(0)))
	ct, body := s.form(nil, map[string][2]string{"image": {"image/jpeg", photo}})
	resp := s.send(http.MethodPut, "/v1/me/photo", s.alice, ct, body)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var uploaded dto.PhotoResponse
	s.decode(resp, &uploaded)
	s.Equal("/v1/persons/alice/photo", uploaded.PhotoURL)

	identify := func(image string) dto.VerificationResponse {
		ct, body := s.form(nil, map[string][2]string{"image": {"image/jpeg", image}})
		resp := s.send(http.MethodPost, "/v1/verify/face", s.gate, ct, body)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		var out dto.VerificationResponse
		s.decode(resp, &out)
		return out
	}

	s.Run("match", func() {
		out := identify(string(s.encoder.Face("alice-at-gate", biometrictest.Vector(0))))
		s.True(out.Granted)
		s.Equal("alice", out.Decision.Person.Username)
		s.Require().Len(out.Decision.Credentials, 1)
		s.Equal("Main Gate", out.Decision.Credentials[0].EventName)
	})

	s.Run("no face", func() {
		out := identify("a wall")
		s.False(out.Granted)
		s.Equal(models.ReasonNoFaceDetected, out.Reason)
	})

	s.Run("missing image", func() {
		ct, body := s.form(map[string]string{"note": "x"}, nil)
		resp := s.send(http.MethodPost, "/v1/verify/face", s.gate, ct, body)
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	s.Run("photo visible to checkpoint", func() {
		resp := s.send(http.MethodGet, "/v1/persons/alice/photo", s.gate, "", nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		data, err := io.ReadAll(resp.Body)
		s.Require().NoError(err)
		s.Equal(photo, string(data))
	})

	s.Run("photo hidden from other members", func() {
		resp := s.send(http.MethodGet, "/v1/persons/alice/photo", s.bob, "", nil)
		s.Equal(http.StatusForbidden, resp.StatusCode)
	})
}

func (s *APISuite) TestFaceMatchWithMissingPerson() {
	s.store.PutReferenceUnchecked(models.BiometricReference{
		PersonID: uuid.New(), ImageKey: "photos/ghost.jpg", Embedding: biometrictest.Vector(5),
	})
	probe := string(s.encoder.Face("ghost-at-gate", biometrictest.Vector(5)))

	ct, body := s.form(nil, map[string][2]string{"image": {"image/jpeg", probe}})
	resp := s.send(http.MethodPost, "/v1/verify/face", s.gate, ct, body)
	s.Require().Equal(http.StatusNotFound, resp.StatusCode)

	var out dto.ErrorResponse
	s.decode(resp, &out)
	s.Equal("dangling_reference", out.Kind)
	s.Contains(out.Error, "biometric reference points to a missing person")
}

func (s *APISuite) TestComplaintFromUnprofiledOperator() {
	s.register(s.alice, "Alice")

	ct, body := s.form(map[string]string{"username": "alice", "text": "tailgated through lane 2"}, nil)
	resp := s.send(http.MethodPost, "/v1/complaints", s.gate, ct, body)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	resp = s.send(http.MethodGet, "/v1/complaints", s.gate, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var mine dto.ComplaintListResponse
	s.decode(resp, &mine)
	s.Require().Len(mine.Complaints, 1)
	s.Equal("tailgated through lane 2", mine.Complaints[0].Text)
}

func (s *APISuite) TestComplaints() {
	s.register(s.alice, "Alice")
	s.register(s.bob, "Bob")

	ct, body := s.form(
		map[string]string{"username": "alice", "text": "pushed past the queue"},
		map[string][2]string{"evidence": {"image/png", string(pngHeader)}},
	)
	resp := s.send(http.MethodPost, "/v1/complaints", s.bob, ct, body)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var filed models.Complaint
	s.decode(resp, &filed)
	s.Equal(models.ComplaintPending, filed.Status)
	s.NotEmpty(filed.EvidenceKey)

	list := func(token string) int {
		resp := s.call(http.MethodGet, "/v1/complaints", token, nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		var out dto.ComplaintListResponse
		s.decode(resp, &out)
		return out.Total
	}
	s.Equal(1, list(s.bob))
	s.Equal(0, list(s.alice))
	s.Equal(1, list(s.admin))

	s.Run("text evidence is rejected", func() {
		ct, body := s.form(
			map[string]string{"username": "alice", "text": "again"},
			map[string][2]string{"evidence": {"text/plain", "not an image"}},
		)
		resp := s.send(http.MethodPost, "/v1/complaints", s.bob, ct, body)
		s.Equal(http.StatusBadRequest, resp.StatusCode)
	})

	resp = s.send(http.MethodGet, "/v1/complaints/"+filed.ID.String()+"/evidence", s.bob, "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp = s.send(http.MethodGet, "/v1/complaints/"+filed.ID.String()+"/evidence", s.alice, "", nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.call(http.MethodPost, "/v1/complaints/"+filed.ID.String()+"/resolve", s.bob, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp = s.call(http.MethodPost, "/v1/complaints/not-a-uuid/resolve", s.admin, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.call(http.MethodPost, "/v1/complaints/"+filed.ID.String()+"/dismiss", s.admin, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var dismissed models.Complaint
	s.decode(resp, &dismissed)
	s.Equal(models.ComplaintDismissed, dismissed.Status)

	resp = s.call(http.MethodDelete, "/v1/complaints/"+filed.ID.String(), s.admin, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	s.Equal(0, list(s.admin))
}

func (s *APISuite) TestPeopleAndEvents() {
	s.register(s.alice, "Alice")

	resp := s.call(http.MethodGet, "/v1/me", s.alice, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp = s.call(http.MethodGet, "/v1/me", s.bob, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)

	resp = s.call(http.MethodGet, "/v1/persons", s.gate, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp = s.call(http.MethodGet, "/v1/persons", s.admin, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var people dto.PersonListResponse
	s.decode(resp, &people)
	s.Equal(1, people.Total)

	resp = s.call(http.MethodPost, "/v1/events", s.alice, dto.CreateEventRequest{Name: "Main Gate"})
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp = s.call(http.MethodPost, "/v1/events", s.admin, dto.CreateEventRequest{Name: "Main Gate", Persistent: true})
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp = s.call(http.MethodGet, "/v1/events", s.admin, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var events dto.EventListResponse
	s.decode(resp, &events)
	s.Require().Equal(1, events.Total)
	s.True(events.Events[0].Persistent)

	resp = s.call(http.MethodDelete, "/v1/persons/alice", s.alice, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	resp = s.call(http.MethodDelete, "/v1/persons/alice", s.admin, nil)
	s.Equal(http.StatusNoContent, resp.StatusCode)
	resp = s.call(http.MethodGet, "/v1/me", s.alice, nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APISuite) TestAccessLog() {
	s.verifyToken("PG-NOTREAL")

	resp := s.call(http.MethodGet, "/v1/access-log", s.gate, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.call(http.MethodGet, "/v1/access-log?limit=0", s.admin, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp = s.call(http.MethodGet, "/v1/access-log", s.admin, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var out dto.AccessLogResponse
	s.decode(resp, &out)
	s.Require().Equal(1, out.Total)
	s.Equal(models.ReasonInvalidCode, out.Events[0].Reason)
	s.Equal("gate-1", out.Events[0].Actor)
}

func (s *APISuite) dial(query string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/v1/ws?" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func (s *APISuite) TestLiveFeed() {
	_, resp, err := s.dial("access_token=" + s.alice)
	s.Require().Error(err)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	_, resp, err = s.dial("")
	s.Require().Error(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := s.dial("path=token&access_token=" + s.gate)
	s.Require().NoError(err)
	defer conn.Close()
	s.Require().Eventually(func() bool { return s.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.verifyToken("PG-NOTREAL")

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	var d models.Decision
	s.Require().NoError(conn.ReadJSON(&d))
	s.Equal(models.PathToken, d.Path)
	s.Equal(models.ReasonInvalidCode, d.Reason)
	s.Equal("gate-1", d.Actor)
}

func (s *APISuite) TestSystemEndpoints() {
	resp := s.send(http.MethodGet, "/healthz", "", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	resp = s.send(http.MethodGet, "/readyz", "", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	s.down.Store(true)
	resp = s.send(http.MethodGet, "/readyz", "", "", nil)
	s.Require().Equal(http.StatusServiceUnavailable, resp.StatusCode)
	var out struct {
		Checks map[string]string `json:"checks"`
	}
	s.decode(resp, &out)
	s.Equal("connection refused", out.Checks["store"])

	resp = s.send(http.MethodGet, "/metrics", "", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}
