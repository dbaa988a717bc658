package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	FromAddr   string
	Encryption string // none, starttls, ssl_tls
	Timeout    time.Duration
}

// emailMessage is the unit body expected by the email connector.
type emailMessage struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    string `json:"html,omitempty"`
}

// SMTPSender delivers email units over SMTP. Handles carry mailto: targets;
// the trust mode does not apply, TLS follows the configured encryption.
type SMTPSender struct {
	config SMTPConfig
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config}
}

func (s *SMTPSender) Send(ctx context.Context, h *Handle, u Unit) error {
	var em emailMessage
	if err := json.Unmarshal(u.Body, &em); err != nil {
		return fmt.Errorf("decode email payload: %w", err)
	}

	m := mail.NewMsg()
	if err := m.From(s.config.FromAddr); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	addrs := strings.Split(h.URL.Opaque, ",")
	sent := 0
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if err := m.AddTo(a); err != nil {
			return fmt.Errorf("invalid recipient %q: %w", a, err)
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("no recipients in target %q", h.Target)
	}

	m.Subject(em.Subject)
	m.SetBodyString(mail.TypeTextPlain, em.Body)
	if em.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, em.HTML)
	}

	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(s.config.Encryption)),
	}
	if s.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}
	if s.config.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.config.Timeout))
	}
	c, err := mail.NewClient(s.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
