package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/procurement/commbus"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
)

// BusDeliverer sends a DeliverRFP command on the commbus. The handler
// registered with RegisterDeliveryHandler does the actual sending, so
// middleware such as the circuit breaker sits between the engine and the relay.
type BusDeliverer struct {
	bus commbus.CommBus
}

// NewBusDeliverer creates a BusDeliverer.
func NewBusDeliverer(bus commbus.CommBus) *BusDeliverer {
	return &BusDeliverer{bus: bus}
}

// Name implements Deliverer.
func (d *BusDeliverer) Name() string { return "bus" }

// Deliver implements Deliverer.
func (d *BusDeliverer) Deliver(ctx context.Context, doc domain.RFPDocument) error {
	m := MailingFor(ctx, doc)
	if len(m.Recipients) == 0 {
		return ErrNoRecipients
	}
	if !d.bus.HasHandler(commbus.TypeDeliverRFP) {
		return commbus.NewNoHandlerError(commbus.TypeDeliverRFP)
	}
	return d.bus.Send(ctx, &commbus.DeliverRFP{
		RunID:       m.RunID,
		RequestID:   m.Reference,
		Title:       m.Title,
		RFPCategory: m.Category,
		Markdown:    m.Markdown,
		Recipients:  m.Addresses(),
	})
}

// RegisterDeliveryHandler answers DeliverRFP commands with mailer.
func RegisterDeliveryHandler(bus commbus.CommBus, mailer Mailer) error {
	return bus.RegisterHandler(commbus.TypeDeliverRFP, func(ctx context.Context, msg commbus.Message) (any, error) {
		cmd, ok := msg.(*commbus.DeliverRFP)
		if !ok {
			return nil, fmt.Errorf("unexpected message %T", msg)
		}
		recipients, err := ParseAddresses(cmd.Recipients)
		if err != nil {
			return nil, fmt.Errorf("deliver rfp: %w", err)
		}
		if len(recipients) == 0 {
			return nil, ErrNoRecipients
		}
		return nil, mailer.Send(ctx, Mailing{
			RunID:      cmd.RunID,
			Reference:  cmd.RequestID,
			Title:      cmd.Title,
			Category:   cmd.RFPCategory,
			Markdown:   cmd.Markdown,
			Recipients: recipients,
		})
	})
}

// IsCircuitOpen reports whether err came from an open delivery circuit.
func IsCircuitOpen(err error) bool {
	var open *commbus.CircuitOpenError
	return errors.As(err, &open)
}

var _ Deliverer = (*BusDeliverer)(nil)
