package notify_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/models"
	"github.com/your-org/passgate/internal/notify"
)

type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  []byte
}

func notice() models.IssuedNotice {
	return models.IssuedNotice{
		CredentialID: uuid.New(),
		Username:     "alice",
		DisplayName:  "Alice Liddell",
		Email:        "alice@example.org",
		EventName:    "Main Gate",
		Token:        "PG-ABCDEFGHIJKLMNOPQRSTUVWXYZ234567",
		IssuedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func newMailer(out *[]sent, err error) *notify.Mailer {
	return notify.NewMailer(config.SMTPConfig{
		Host: "smtp.example.org", Port: 587, Username: "bot", Password: "pw", From: "passgate@example.org",
	},
		notify.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		notify.WithSender(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			*out = append(*out, sent{addr, a, from, to, msg})
			return err
		}),
	)
}

func TestDeliver(t *testing.T) {
	var out []sent
	m := newMailer(&out, nil)

	require.NoError(t, m.Deliver(context.Background(), notice()))
	require.Len(t, out, 1)
	assert.Equal(t, "smtp.example.org:587", out[0].addr)
	assert.NotNil(t, out[0].auth)
	assert.Equal(t, []string{"alice@example.org"}, out[0].to)

	msg, err := mail.ReadMessage(bytes.NewReader(out[0].msg))
	require.NoError(t, err)
	assert.Equal(t, "Your pass for Main Gate", msg.Header.Get("Subject"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	text, err := mr.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Contains(t, string(body), notice().Token)

	img, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "qr.png", img.FileName())
	encoded, err := io.ReadAll(img)
	require.NoError(t, err)
	png, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(string(encoded), "\r\n", ""))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestDeliverSkipsMissingEmail(t *testing.T) {
	var out []sent
	n := notice()
	n.Email = ""

	require.NoError(t, newMailer(&out, nil).Deliver(context.Background(), n))
	assert.Empty(t, out)
}

func TestDeliverReportsSendFailure(t *testing.T) {
	var out []sent
	err := newMailer(&out, errors.New("421 try later")).Deliver(context.Background(), notice())
	assert.ErrorContains(t, err, "421 try later")
}
