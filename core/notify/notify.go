// Package notify defines the best-effort notification gateway used to tell
// eligible staff about a new offer.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/model"
)

// Notifier delivers an offer to its eligible staff. Implementations should
// honour ctx; the caller treats every error as non-fatal.
type Notifier interface {
	NotifyStaffOfOffer(ctx context.Context, offer model.Offer) error
}

// Message is the payload pushed to one staff member.
type Message struct {
	OfferID    string         `json:"offer_id"`
	JobID      string         `json:"job_id"`
	PropertyID string         `json:"property_id"`
	Role       string         `json:"role"`
	StaffID    string         `json:"staff_id"`
	Attempt    int            `json:"attempt"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Priority   model.Priority `json:"priority,omitempty"`
	Payout     string         `json:"payout,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

// Messages expands an offer into one message per eligible staff member.
func Messages(o model.Offer) []Message {
	ids := o.EligibleStaff.IDs()
	out := make([]Message, 0, len(ids))
	payout := ""
	if !o.Meta.Payout.IsZero() {
		payout = o.Meta.Payout.StringFixed(2)
	}
	for _, id := range ids {
		out = append(out, Message{
			OfferID:    o.ID,
			JobID:      o.JobID,
			PropertyID: o.PropertyID,
			Role:       o.RequiredRole,
			StaffID:    id,
			Attempt:    o.Attempt,
			ExpiresAt:  o.ExpiresAt,
			Priority:   o.Meta.Priority,
			Payout:     payout,
			Currency:   o.Meta.Currency,
			Notes:      o.Meta.Notes,
		})
	}
	return out
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyStaffOfOffer(context.Context, model.Offer) error { return nil }

// Multi fans an offer out to several transports. Every transport is tried;
// errors are joined.
type Multi []Notifier

func (m Multi) NotifyStaffOfOffer(ctx context.Context, o model.Offer) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyStaffOfOffer(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var registry = factory.NewRegistry[Notifier]()

func init() {
	_ = Register("nop", func(map[string]any) (Notifier, error) { return NopNotifier{}, nil })
}

// Register adds a notifier factory identified by name.
func Register(name string, f factory.Factory[Notifier]) error {
	return registry.Register(name, f)
}

// New builds the configured notifiers. No configuration yields a NopNotifier.
func New(cfgs []factory.ModuleConfig) (Notifier, error) {
	switch len(cfgs) {
	case 0:
		return NopNotifier{}, nil
	case 1:
		return registry.Create(cfgs[0])
	}
	all, err := registry.CreateAll(cfgs)
	if err != nil {
		return nil, err
	}
	return Multi(all), nil
}
