package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strconv"
	"time"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// SMTPConfig describes the relay used to mail suppliers.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Validate reports missing relay settings.
func (c SMTPConfig) Validate() error {
	var problems []error
	if c.Host == "" {
		problems = append(problems, errors.New("smtp host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Errorf("smtp port %d out of range", c.Port))
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		problems = append(problems, fmt.Errorf("smtp from: %w", err))
	}
	return errors.Join(problems...)
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPDeliverer mails the RFP to every supplier, one message each, with the
// markdown rendering attached.
type SMTPDeliverer struct {
	cfg    SMTPConfig
	send   SendFunc
	logger Logger
	now    func() time.Time
}

// SMTPOption configures an SMTPDeliverer.
type SMTPOption func(*SMTPDeliverer)

// WithSendFunc replaces smtp.SendMail.
func WithSendFunc(fn SendFunc) SMTPOption {
	return func(d *SMTPDeliverer) { d.send = fn }
}

// WithSMTPLogger sets the logger.
func WithSMTPLogger(l Logger) SMTPOption {
	return func(d *SMTPDeliverer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithSMTPClock sets the clock used for the Date header.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(d *SMTPDeliverer) { d.now = now }
}

// NewSMTPDeliverer creates an SMTPDeliverer after validating cfg.
func NewSMTPDeliverer(cfg SMTPConfig, opts ...SMTPOption) (*SMTPDeliverer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &SMTPDeliverer{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: observability.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Name implements Deliverer.
func (d *SMTPDeliverer) Name() string { return "smtp" }

// Deliver implements Deliverer.
func (d *SMTPDeliverer) Deliver(ctx context.Context, doc domain.RFPDocument) error {
	return d.Send(ctx, MailingFor(ctx, doc))
}

// Send implements Mailer. Every recipient is attempted; failures are joined.
func (d *SMTPDeliverer) Send(ctx context.Context, m Mailing) error {
	if len(m.Recipients) == 0 {
		d.logger.Warn("rfp_delivery_no_recipients", "run_id", m.RunID, "title", m.Title)
		return ErrNoRecipients
	}

	from, err := mail.ParseAddress(d.cfg.From)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	var failures []error
	for _, rcpt := range m.Recipients {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		msg, err := composeMessage(from.String(), rcpt, m, d.now())
		if err != nil {
			failures = append(failures, fmt.Errorf("compose for %s: %w", rcpt.Address, err))
			continue
		}
		if err := d.send(addr, auth, from.Address, []string{rcpt.Address}, msg); err != nil {
			d.logger.Error("rfp_mail_failed", "run_id", m.RunID, "to", rcpt.Address, "error", err)
			failures = append(failures, fmt.Errorf("send to %s: %w", rcpt.Address, err))
			continue
		}
		d.logger.Info("rfp_mailed", "run_id", m.RunID, "to", rcpt.Address)
	}
	return errors.Join(failures...)
}

// =============================================================================
// MESSAGE COMPOSITION
// =============================================================================

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AttachmentName returns the filename used for the markdown attachment.
func AttachmentName(reference string) string {
	ref := unsafeFilename.ReplaceAllString(reference, "_")
	if ref == "" {
		ref = "document"
	}
	return "RFP_" + ref + ".md"
}

func composeMessage(from string, to *mail.Address, m Mailing, at time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	subject := "Request for Proposal: " + m.Title
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", at.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	greeting := to.Name
	if greeting == "" {
		greeting = to.Address
	}
	body, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(body, "Dear %s,\r\n\r\nPlease find attached our Request for Proposal for %s.\r\n\r\n"+
		"We look forward to your submission.\r\n\r\nBest regards,\r\nProcurement Team\r\n", greeting, m.Title)

	att, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/markdown; charset=utf-8"},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": AttachmentName(m.Reference)})},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(att, []byte(m.Markdown)); err != nil {
		return nil, err
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64Lines writes data base64-encoded in 76 character lines.
func writeBase64Lines(w io.Writer, data []byte) error {
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
