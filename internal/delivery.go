package formrelay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
	"golang.org/x/time/rate"
)

// SenderName selects one of the pre-configured sender identities.
type SenderName string

const (
	SenderAdmin SenderName = "admin"
	SenderHR    SenderName = "hr"
)

// SenderIdentity is a fully resolved sender: the From address plus the SMTP
// credentials used to send as it.
type SenderIdentity struct {
	Name     SenderName
	Address  string
	Username string
	Password string
	Proxied  bool
}

// Message is what the form handlers hand to delivery.
type Message struct {
	To             string
	ReplyTo        string
	Subject        string
	HTML           string
	AttachmentPath string
}

type DeliveryResult struct {
	MessageID string
}

// Mailer delivers a message as one of the configured senders. Failures are
// returned as *DeliveryError.
type Mailer interface {
	Send(ctx context.Context, sender SenderName, msg Message) (DeliveryResult, error)
}

type transportFunc func(addr string, auth smtp.Auth, implicitTLS bool, e *email.Email) error

// SMTPMailer sends through a single SMTP relay with per-sender credentials.
type SMTPMailer struct {
	smtp      SMTPCfg
	senders   map[SenderName]SenderIdentity
	limiter   *rate.Limiter
	timeout   time.Duration
	transport transportFunc
}

type MailerOption func(*SMTPMailer)

// WithSendTimeout bounds each Send, including time spent waiting on the throttle.
func WithSendTimeout(d time.Duration) MailerOption {
	return func(m *SMTPMailer) { m.timeout = d }
}

// WithSendRate throttles outbound mail to perMinute messages with the given burst.
// A non-positive perMinute disables throttling.
func WithSendRate(perMinute, burst int) MailerOption {
	return func(m *SMTPMailer) {
		if perMinute <= 0 {
			m.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
}

func withTransport(fn transportFunc) MailerOption {
	return func(m *SMTPMailer) { m.transport = fn }
}

func NewSMTPMailer(cfg SMTPCfg, senders []SenderIdentity, opts ...MailerOption) *SMTPMailer {
	m := &SMTPMailer{
		smtp:      cfg,
		senders:   make(map[SenderName]SenderIdentity, len(senders)),
		timeout:   30 * time.Second,
		transport: smtpTransport,
	}
	for _, s := range senders {
		m.senders[s.Name] = s
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, sender SenderName, msg Message) (DeliveryResult, error) {
	id, ok := m.senders[sender]
	if !ok {
		return DeliveryResult{}, &DeliveryError{Sender: sender, Err: fmt.Errorf("unknown sender %q", sender)}
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return DeliveryResult{}, &DeliveryError{Sender: sender, Err: fmt.Errorf("send throttled: %w", err)}
		}
	}

	e := email.NewEmail()
	e.From = id.Address
	e.To = []string{msg.To}
	if msg.ReplyTo != "" {
		e.ReplyTo = []string{msg.ReplyTo}
	}
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), addressDomain(id.Address))
	e.Headers.Set("Message-Id", messageID)

	if msg.AttachmentPath != "" {
		if _, err := e.AttachFile(msg.AttachmentPath); err != nil {
			return DeliveryResult{}, &DeliveryError{Sender: sender, Err: fmt.Errorf("attach file: %w", err)}
		}
	}

	addr := net.JoinHostPort(m.smtp.Host, strconv.Itoa(m.smtp.Port))
	auth := smtp.PlainAuth("", id.Username, id.Password, m.smtp.Host)

	// The SMTP exchange has no context support; on deadline the goroutine is
	// left to finish on its own.
	done := make(chan error, 1)
	go func() { done <- m.transport(addr, auth, m.smtp.SSL, e) }()

	select {
	case err := <-done:
		if err != nil {
			return DeliveryResult{}, &DeliveryError{Sender: sender, Err: err}
		}
	case <-ctx.Done():
		return DeliveryResult{}, &DeliveryError{Sender: sender, Err: fmt.Errorf("send aborted: %w", ctx.Err())}
	}

	return DeliveryResult{MessageID: messageID}, nil
}

// Verify dials the relay and authenticates as sender without sending anything.
func (m *SMTPMailer) Verify(ctx context.Context, sender SenderName) error {
	id, ok := m.senders[sender]
	if !ok {
		return fmt.Errorf("unknown sender %q", sender)
	}

	addr := net.JoinHostPort(m.smtp.Host, strconv.Itoa(m.smtp.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if m.smtp.SSL {
		conn = tls.Client(conn, &tls.Config{ServerName: m.smtp.Host})
	}

	c, err := smtp.NewClient(conn, m.smtp.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if !m.smtp.SSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: m.smtp.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if err := c.Auth(smtp.PlainAuth("", id.Username, id.Password, m.smtp.Host)); err != nil {
		return fmt.Errorf("auth as %s: %w", id.Username, err)
	}
	return c.Quit()
}

func (m *SMTPMailer) Senders() []SenderIdentity {
	out := make([]SenderIdentity, 0, len(m.senders))
	for _, name := range []SenderName{SenderAdmin, SenderHR} {
		if s, ok := m.senders[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

func smtpTransport(addr string, auth smtp.Auth, implicitTLS bool, e *email.Email) error {
	if implicitTLS {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return err
		}
		return e.SendWithTLS(addr, auth, &tls.Config{ServerName: host})
	}
	return e.Send(addr, auth)
}

func addressDomain(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return strings.TrimSuffix(addr[i+1:], ">")
	}
	return "localhost"
}
