// Package notification provides alert delivery to external channels
// (Telegram, webhooks) for order lifecycle events.
package notification

import (
	"context"
	"fmt"
	"log"

	"trade-assistv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// OrderAlert builds an alert describing an order's current lifecycle state.
func OrderAlert(o model.Order) Alert {
	level := AlertInfo
	if o.Status == model.StatusRejected {
		level = AlertWarning
	}
	msg := fmt.Sprintf("%s %s %s qty=%s filled=%s", o.Side, o.Kind, o.Symbol, o.Qty, o.FilledQty)
	if o.AvgFillPrice != nil {
		msg += fmt.Sprintf(" avg=%s", o.AvgFillPrice)
	}
	if o.RejectReason != "" {
		msg += " reason=" + o.RejectReason
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("Order %s: %s", o.ID, o.Status),
		Message: msg,
	}
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// MultiNotifier fans an alert out to several backends, returning the first
// delivery error after attempting all of them.
type MultiNotifier struct {
	backends []Notifier
}

// NewMultiNotifier creates a notifier that delivers to every backend.
func NewMultiNotifier(backends ...Notifier) *MultiNotifier {
	return &MultiNotifier{backends: backends}
}

func (m *MultiNotifier) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, b := range m.backends {
		if err := b.Send(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
