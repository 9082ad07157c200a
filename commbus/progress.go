package commbus

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressPrinter renders run lifecycle events as human-readable lines.
// It is the terminal presentation subscriber used by the CLI.
type ProgressPrinter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewProgressPrinter creates a printer writing to w.
func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	return &ProgressPrinter{w: w}
}

// Attach subscribes the printer to every run event on bus and returns a
// function that detaches it.
func (p *ProgressPrinter) Attach(bus CommBus) func() {
	unsubs := []func(){
		bus.Subscribe(TypeRunStarted, p.handle),
		bus.Subscribe(TypeTransitionRecorded, p.handle),
		bus.Subscribe(TypeRunCompleted, p.handle),
		bus.Subscribe(TypeDeliveryCompleted, p.handle),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (p *ProgressPrinter) handle(ctx context.Context, msg Message) (any, error) {
	line := FormatEvent(msg)
	if line == "" {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintln(p.w, line)
	return nil, err
}

// FormatEvent renders one event, or "" for messages it does not know.
func FormatEvent(msg Message) string {
	switch m := msg.(type) {
	case *RunStarted:
		return fmt.Sprintf("[%s] started: %s (requester %s, budget %.2f %s)",
			shortID(m.RunID), m.Subject, m.Requester, m.Budget, m.Currency)
	case *TransitionRecorded:
		line := fmt.Sprintf("[%s] #%d %s attempt %d: %s -> %s (%s, %dms)",
			shortID(m.RunID), m.Seq, m.Stage, m.Attempt, m.State, m.Next, m.Outcome, m.DurationMS)
		if m.Error != "" {
			line += ": " + m.Error
		}
		return line
	case *RunCompleted:
		line := fmt.Sprintf("[%s] finished: %s in %dms", shortID(m.RunID), m.Status, m.DurationMS)
		if len(m.Issues) > 0 {
			line += "\n  - " + strings.Join(m.Issues, "\n  - ")
		}
		if m.Error != "" {
			line += ": " + m.Error
		}
		return line
	case *DeliveryCompleted:
		if m.Succeeded {
			return fmt.Sprintf("[%s] delivered via %s", shortID(m.RunID), m.Deliverer)
		}
		return fmt.Sprintf("[%s] delivery via %s failed: %s", shortID(m.RunID), m.Deliverer, m.Error)
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
