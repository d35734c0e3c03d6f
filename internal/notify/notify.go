// Package notify posts experiment events to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/rescale/simchain/internal/config"
	"github.com/rescale/simchain/internal/logging"
	"github.com/rescale/simchain/internal/version"
)

// Event names accepted in [notify] events.
const (
	EventComplete     = "complete"
	EventKilled       = "killed"
	EventSubmitFailed = "submit_failed"
	EventRunFailed    = "run_failed"
)

// Payload is the JSON body posted for every event.
type Payload struct {
	Event     string    `json:"event"`
	ExpID     string    `json:"expid"`
	Phase     string    `json:"phase,omitempty"`
	RunNumber int       `json:"run_number,omitempty"`
	Date      string    `json:"date,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	Message   string    `json:"message"`
	Time      time.Time `json:"time"`
	Sender    string    `json:"sender"`
}

// Notifier posts events. A nil or disabled Notifier drops them.
type Notifier struct {
	client  *nethttp.Client
	url     string
	events  map[string]bool
	logger  *logging.Logger
	enabled bool
}

// NewNotifier builds a notifier from [notify] settings. client should
// already carry proxy and retry configuration.
func NewNotifier(s config.NotifySettings, client *nethttp.Client, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if client == nil {
		client = nethttp.DefaultClient
	}
	n := &Notifier{
		client:  client,
		url:     s.WebhookURL,
		events:  map[string]bool{},
		logger:  logger,
		enabled: s.WebhookURL != "",
	}
	for _, e := range strings.Split(s.Events, ",") {
		if e = strings.TrimSpace(e); e != "" {
			n.events[e] = true
		}
	}
	return n
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	return n != nil && n.enabled
}

// Wants reports whether event is subscribed.
func (n *Notifier) Wants(event string) bool {
	return n.IsEnabled() && n.events[event]
}

// ExperimentComplete announces the end of the experiment.
func (n *Notifier) ExperimentComplete(ctx context.Context, p Payload) {
	p.Event = EventComplete
	if p.Message == "" {
		p.Message = fmt.Sprintf("Experiment %s reached its final date %s", p.ExpID, p.Date)
	}
	n.post(ctx, p)
}

// MonitorKilled announces a job cancelled by a kill trigger.
func (n *Notifier) MonitorKilled(ctx context.Context, p Payload) {
	p.Event = EventKilled
	n.post(ctx, p)
}

// SubmitFailed announces a successor that could not be submitted.
func (n *Notifier) SubmitFailed(ctx context.Context, p Payload) {
	p.Event = EventSubmitFailed
	n.post(ctx, p)
}

// RunFailed announces an in-process phase that was started but failed.
func (n *Notifier) RunFailed(ctx context.Context, p Payload) {
	p.Event = EventRunFailed
	n.post(ctx, p)
}

// post sends p. Failures are logged, never returned: a notification
// must not change the outcome of a phase.
func (n *Notifier) post(ctx context.Context, p Payload) {
	if !n.Wants(p.Event) {
		return
	}
	p.Message = truncate(p.Message, 500)
	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}
	p.Sender = "simchain/" + version.Version

	if err := n.send(ctx, p); err != nil {
		n.logger.Warn().Err(err).Str("event", p.Event).Msg("Failed to send webhook notification")
	}
}

func (n *Notifier) send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
