// Package nats delivers offer notifications over NATS, one subject per
// staff member.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/core/notify"
	"github.com/kilianp07/villadispatch/infra/logger"
)

// Config holds NATS notifier settings.
type Config struct {
	URL            string        `json:"url"`
	Name           string        `json:"name"`
	ReconnectWait  time.Duration `json:"reconnect_wait"`
	MaxReconnects  int           `json:"max_reconnects"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	// SubjectTemplate is the per-staff subject; {staff_id} is substituted.
	SubjectTemplate string `json:"subject_template"`
}

const defaultSubjectTemplate = "villa.staff.{staff_id}.offers"

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "villadispatch"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SubjectTemplate == "" {
		c.SubjectTemplate = defaultSubjectTemplate
	}
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Notifier publishes offers on NATS.
type Notifier struct {
	conn    conn
	subject string
	logger  logger.Logger
}

var connect = func(cfg Config, log logger.Logger) (conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

func init() {
	_ = notify.Register("nats", func(raw map[string]any) (notify.Notifier, error) {
		var cfg Config
		if err := factory.Decode(raw, &cfg); err != nil {
			return nil, fmt.Errorf("nats notifier config: %w", err)
		}
		return NewNotifier(cfg)
	})
}

// NewNotifier connects to the NATS server in cfg.
func NewNotifier(cfg Config) (*Notifier, error) {
	cfg.SetDefaults()
	log := logger.New("nats_notifier")
	c, err := connect(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Notifier{conn: c, subject: cfg.SubjectTemplate, logger: log}, nil
}

// Subject returns the subject used for staffID.
func (n *Notifier) Subject(staffID string) string {
	return strings.ReplaceAll(n.subject, "{staff_id}", staffID)
}

// NotifyStaffOfOffer publishes one message per eligible staff member and
// flushes so delivery errors surface before ctx expires.
func (n *Notifier) NotifyStaffOfOffer(ctx context.Context, o model.Offer) error {
	var errs []error
	for _, msg := range notify.Messages(o) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := n.conn.Publish(n.Subject(msg.StaffID), payload); err != nil {
			errs = append(errs, fmt.Errorf("staff %s: %w", msg.StaffID, err))
		}
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if len(errs) == 0 {
		n.logger.Debugf("published offer %s to %d staff", o.ID, o.EligibleStaff.Len())
	}
	return errors.Join(errs...)
}

// Close closes the connection.
func (n *Notifier) Close() error {
	n.conn.Close()
	return nil
}
