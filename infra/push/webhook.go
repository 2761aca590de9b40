// Package push delivers offers to an HTTP push provider.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kilianp07/villadispatch/auth"
	"github.com/kilianp07/villadispatch/core/factory"
	"github.com/kilianp07/villadispatch/core/model"
	"github.com/kilianp07/villadispatch/core/notify"
)

// Config locates the provider endpoint.
type Config struct {
	URL            string            `json:"url"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Headers        map[string]string `json:"headers"`
	Auth           auth.Conf         `json:"auth"`
}

// Batch is the request body: every message of one offer.
type Batch struct {
	OfferID  string           `json:"offer_id"`
	Messages []notify.Message `json:"messages"`
}

// Notifier posts one batch per offer.
type Notifier struct {
	cfg    Config
	client *http.Client
	creds  *auth.ClientCred
}

func init() {
	_ = notify.Register("webhook", func(conf map[string]any) (notify.Notifier, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewNotifier(c)
	})
}

// NewNotifier validates cfg and returns a Notifier.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("push: url is required")
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 5
	}
	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
	if cfg.Auth.Enabled() {
		n.creds = auth.NewClientCred(cfg.Auth)
	}
	return n, nil
}

// NotifyStaffOfOffer implements notify.Notifier.
func (n *Notifier) NotifyStaffOfOffer(ctx context.Context, o model.Offer) error {
	body, err := json.Marshal(Batch{OfferID: o.ID, Messages: notify.Messages(o)})
	if err != nil {
		return err
	}
	status, err := n.post(ctx, body)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && n.creds != nil {
		if _, err := n.creds.ForceRefresh(ctx); err != nil {
			return err
		}
		if status, err = n.post(ctx, body); err != nil {
			return err
		}
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("push: offer %s: provider returned %d", o.ID, status)
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}
	if n.creds != nil {
		if err := n.creds.SetAuthHeader(req); err != nil {
			return 0, err
		}
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
