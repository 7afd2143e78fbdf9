package report

import (
	"context"
	"fmt"
	"strings"
)

// MultiSender fans a report out to multiple senders
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a sender that delivers to all given senders
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send delivers the report to every sender, collecting errors
func (m *MultiSender) Send(ctx context.Context, r *CycleReport) error {
	var errs []string
	for _, s := range m.senders {
		if err := s.Send(ctx, r); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("send report: %s", strings.Join(errs, "; "))
	}
	return nil
}
