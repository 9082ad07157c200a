// Package delivery hands approved RFP documents to their recipients.
//
// Delivery happens after a run has terminated. Its outcome is recorded on
// the RunState as a post-terminal event and never changes the run's status.
package delivery

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

// Logger is the structured logger deliverers write to.
type Logger = observability.Logger

// ErrNoRecipients is returned when a document names no suppliers.
var ErrNoRecipients = errors.New("no suppliers to deliver to")

// Deliverer sends an approved document onward.
type Deliverer interface {
	// Name identifies the deliverer in metrics and post-terminal events.
	Name() string
	Deliver(ctx context.Context, doc domain.RFPDocument) error
}

// Mailer sends a prepared Mailing.
type Mailer interface {
	Send(ctx context.Context, m Mailing) error
}

// =============================================================================
// MAILING
// =============================================================================

// Mailing is an approved RFP ready to be sent to its recipients.
type Mailing struct {
	RunID      string
	Reference  string
	Title      string
	Category   string
	Markdown   string
	Recipients []*mail.Address
}

// MailingFor prepares doc for sending to its suppliers.
func MailingFor(ctx context.Context, doc domain.RFPDocument) Mailing {
	m := Mailing{
		RunID:     RunIDFrom(ctx),
		Reference: doc.RequestID,
		Title:     doc.Title,
		Category:  doc.Category.DisplayName(),
		Markdown:  doc.Markdown(),
	}
	for _, s := range doc.Suppliers {
		name := s.ContactPerson
		if name == "" {
			name = s.Name
		}
		m.Recipients = append(m.Recipients, &mail.Address{Name: name, Address: s.Email})
	}
	return m
}

// Addresses returns the recipients in RFC 5322 form.
func (m Mailing) Addresses() []string {
	out := make([]string, 0, len(m.Recipients))
	for _, r := range m.Recipients {
		out = append(out, r.String())
	}
	return out
}

// ParseAddresses parses RFC 5322 addresses, joining every failure.
func ParseAddresses(list []string) ([]*mail.Address, error) {
	var (
		out      []*mail.Address
		problems []error
	)
	for _, raw := range list {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			problems = append(problems, err)
			continue
		}
		out = append(out, addr)
	}
	return out, errors.Join(problems...)
}

// =============================================================================
// RUN CONTEXT
// =============================================================================

type runIDKey struct{}

// WithRunID attaches the run being delivered to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run attached by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// =============================================================================
// LOG DELIVERER
// =============================================================================

// LogDeliverer only logs the hand-off. It is the default when no SMTP relay
// is configured.
type LogDeliverer struct {
	logger Logger
}

// NewLogDeliverer creates a LogDeliverer.
func NewLogDeliverer(logger Logger) *LogDeliverer {
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &LogDeliverer{logger: logger}
}

// Name implements Deliverer.
func (d *LogDeliverer) Name() string { return "log" }

// Deliver implements Deliverer.
func (d *LogDeliverer) Deliver(ctx context.Context, doc domain.RFPDocument) error {
	return d.Send(ctx, MailingFor(ctx, doc))
}

// Send implements Mailer.
func (d *LogDeliverer) Send(ctx context.Context, m Mailing) error {
	if len(m.Recipients) == 0 {
		return ErrNoRecipients
	}
	d.logger.Info("rfp_delivered",
		"run_id", m.RunID,
		"title", m.Title,
		"recipients", m.Addresses(),
		"bytes", len(m.Markdown),
	)
	return nil
}

var (
	_ Deliverer = (*LogDeliverer)(nil)
	_ Mailer    = (*LogDeliverer)(nil)
)
