// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package notify posts lifecycle events to a Slack compatible webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"
)

var logger = loggo.GetLogger("envctl.notify")

// Level is the severity of an event.
type Level string

const (
	Info    Level = "INFO"
	Success Level = "SUCCESS"
	Warning Level = "WARNING"
	Failure Level = "ERROR"
)

var colours = map[Level]string{
	Success: "good",
	Warning: "warning",
	Failure: "danger",
	Info:    "#36a64f",
}

// Event is something an operator may want to hear about.
type Event struct {
	Project     string
	Environment string
	Operation   string
	Level       Level
	Message     string
	Time        time.Time
}

// Notifier delivers events. Delivery failures are logged, never
// returned, so that a broken webhook cannot fail a cleanup.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Event) {}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	URL      string
	Client   HTTPClient
	Clock    clock.Clock
	Attempts int
	Delay    time.Duration
}

// Validate returns an error if config cannot drive a Webhook.
func (config WebhookConfig) Validate() error {
	if config.URL == "" {
		return errors.NotValidf("empty URL")
	}
	if config.Client == nil {
		return errors.NotValidf("nil Client")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Webhook posts events as Slack attachments.
type Webhook struct {
	config WebhookConfig
}

// New returns a Notifier for url. An empty url yields Nop.
func New(url string, client HTTPClient, clk clock.Clock) (Notifier, error) {
	if url == "" {
		return Nop{}, nil
	}
	return NewWebhook(WebhookConfig{URL: url, Client: client, Clock: clk})
}

// NewWebhook returns a Webhook.
func NewWebhook(config WebhookConfig) (*Webhook, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Attempts == 0 {
		config.Attempts = 3
	}
	if config.Delay == 0 {
		config.Delay = 2 * time.Second
	}
	return &Webhook{config: config}, nil
}

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type attachment struct {
	Color  string  `json:"color"`
	Fields []field `json:"fields"`
}

type payload struct {
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments"`
}

// Payload returns the JSON document posted for ev.
func Payload(ev Event) ([]byte, error) {
	colour, ok := colours[ev.Level]
	if !ok {
		colour = colours[Warning]
	}
	p := payload{
		Text: fmt.Sprintf("%s %s %s: %s", ev.Project, ev.Environment, ev.Operation, ev.Level),
		Attachments: []attachment{{
			Color: colour,
			Fields: []field{
				{Title: "Environment", Value: ev.Environment, Short: true},
				{Title: "Message", Value: ev.Message},
				{Title: "Timestamp", Value: ev.Time.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
			},
		}},
	}
	data, err := json.Marshal(p)
	return data, errors.Trace(err)
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, ev Event) {
	if err := w.post(ctx, ev); err != nil {
		logger.Warningf("cannot send webhook notification: %v", err)
		return
	}
	logger.Debugf("webhook notification sent for %s %s", ev.Environment, ev.Operation)
}

func (w *Webhook) post(ctx context.Context, ev Event) error {
	data, err := Payload(ev)
	if err != nil {
		return errors.Trace(err)
	}
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(data))
			if err != nil {
				return errors.Trace(err)
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := w.config.Client.Do(req)
			if err != nil {
				return errors.Trace(err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode >= 300 {
				return errors.Errorf("webhook returned %s", resp.Status)
			}
			return nil
		},
		Attempts:    w.config.Attempts,
		Delay:       w.config.Delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       w.config.Clock,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	return err
}
