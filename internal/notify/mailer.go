package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/your-org/passgate/internal/config"
	"github.com/your-org/passgate/internal/models"
)

const qrSize = 256

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer delivers credential-issued notices by SMTP with the token attached
// as a QR code PNG.
type Mailer struct {
	cfg    config.SMTPConfig
	send   SendFunc
	logger *slog.Logger
}

type Option func(*Mailer)

func WithSender(send SendFunc) Option {
	return func(m *Mailer) { m.send = send }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Mailer) { m.logger = logger }
}

func NewMailer(cfg config.SMTPConfig, opts ...Option) *Mailer {
	m := &Mailer{cfg: cfg, send: smtp.SendMail, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deliver sends one notice. A person without an email address is skipped;
// retrying would not help.
func (m *Mailer) Deliver(ctx context.Context, notice models.IssuedNotice) error {
	if notice.Email == "" {
		m.logger.Warn("no email address, notice dropped", "person", notice.Username, "credential", notice.CredentialID)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := BuildMessage(m.cfg.From, notice)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{notice.Email}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", notice.Email, err)
	}

	m.logger.Info("credential notice sent", "person", notice.Username, "credential", notice.CredentialID)
	return nil
}

// BuildMessage renders the notice as a multipart/mixed message with a
// plain-text body and the token as qr.png.
func BuildMessage(from string, notice models.IssuedNotice) ([]byte, error) {
	png, err := qrcode.Encode(notice.Token, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	text := make(textproto.MIMEHeader)
	text.Set("Content-Type", "text/plain; charset=utf-8")
	part, err := mw.CreatePart(text)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(part, "Hello %s,\r\n\r\n", notice.DisplayName)
	fmt.Fprintf(part, "Your pass for %s is attached as a QR code.\r\n", notice.EventName)
	fmt.Fprintf(part, "Show it at the checkpoint. Code: %s\r\n", notice.Token)

	img := make(textproto.MIMEHeader)
	img.Set("Content-Type", "image/png")
	img.Set("Content-Transfer-Encoding", "base64")
	img.Set("Content-Disposition", `attachment; filename="qr.png"`)
	part, err = mw.CreatePart(img)
	if err != nil {
		return nil, err
	}
	if err := writeBase64(part, png); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	to := mail.Address{Name: notice.DisplayName, Address: notice.Email}
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to.String())
	fmt.Fprintf(&msg, "Subject: Your pass for %s\r\n", notice.EventName)
	fmt.Fprintf(&msg, "Date: %s\r\n", notice.IssuedAt.Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// writeBase64 wraps at 76 columns as RFC 2045 requires.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:76]); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", enc)
	return err
}
