package notify

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"

	"golang.org/x/oauth2"
)

// Mailer delivers one digest to one recipient. Implementations classify
// failures as Transient, Permanent or ErrCredentialExpired so the dispatcher
// can decide whether to retry, give up or refresh.
type Mailer interface {
	Send(ctx context.Context, recipient, subject, htmlBody string, token *oauth2.Token) error
}

// SMTPConfig holds the outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	FromName string
	UseTLS   bool
}

// SMTPMailer sends digests through an SMTP submission endpoint, authenticating
// with the owner's OAuth bearer token (XOAUTH2).
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send connects, authenticates and submits the message. Dial and greeting
// failures are transient; authentication rejection surfaces as
// ErrCredentialExpired; anything the server permanently refuses is permanent.
func (m *SMTPMailer) Send(ctx context.Context, recipient, subject, htmlBody string, token *oauth2.Token) error {
	if token == nil || token.AccessToken == "" {
		return ErrCredentialExpired
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Transient(fmt.Errorf("dial %s: %w", addr, err))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return Transient(fmt.Errorf("smtp greeting: %w", err))
	}
	defer client.Close()

	if m.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return Transient(fmt.Errorf("starttls: %w", err))
		}
	}

	if err := client.Auth(xoauth2Auth(m.cfg.From, token.AccessToken)); err != nil {
		return classifyAuthErr(err)
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return classifySMTPErr(err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return classifySMTPErr(err)
	}

	w, err := client.Data()
	if err != nil {
		return classifySMTPErr(err)
	}
	if _, err := w.Write(buildMessage(m.cfg.From, m.cfg.FromName, recipient, subject, htmlBody)); err != nil {
		return Transient(fmt.Errorf("write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return classifySMTPErr(err)
	}

	return client.Quit()
}

// buildMessage assembles a minimal MIME message with a base64 HTML body.
func buildMessage(from, fromName, to, subject, htmlBody string) []byte {
	var b strings.Builder
	if fromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", fromName, from)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(htmlBody)))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// xoauth2 implements the SASL XOAUTH2 exchange used by Gmail and Outlook
// submission endpoints.
type xoauth2 struct {
	user, accessToken string
}

func xoauth2Auth(user, accessToken string) smtp.Auth {
	return &xoauth2{user: user, accessToken: accessToken}
}

func (a *xoauth2) Start(server *smtp.ServerInfo) (string, []byte, error) {
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.user, a.accessToken)
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2) Next(fromServer []byte, more bool) ([]byte, error) {
	// The server only continues the exchange to deliver an error blob;
	// an empty reply makes it fail the AUTH command properly.
	if more {
		return []byte(""), nil
	}
	return nil, nil
}

func classifyAuthErr(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code >= 400 && proto.Code < 500 {
		return Transient(err)
	}
	// 535 and friends: the bearer token was rejected.
	return fmt.Errorf("%w: %v", ErrCredentialExpired, err)
}

func classifySMTPErr(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		if proto.Code >= 400 && proto.Code < 500 {
			return Transient(err)
		}
		return Permanent(err)
	}
	return Transient(err)
}
