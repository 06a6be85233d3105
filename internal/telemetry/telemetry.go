package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
)

// NoOp is a Telemetry implementation that discards everything
type NoOp struct{}

func (NoOp) TrackEvent(name string, properties map[string]string)   {}
func (NoOp) TrackException(err error, properties map[string]string) {}

// Client posts events to an HTTP sink. Sends are fire-and-forget: they run on
// their own goroutine and failures are logged at debug level only. The
// instrumentation key is read lazily from the secret store on each send.
type Client struct {
	endpoint   string
	secrets    interfaces.SecretStorage
	httpClient *http.Client
	logger     arbor.ILogger
}

// New creates a telemetry client. Returns a NoOp sink when the endpoint is
// empty or the feature is disabled.
func New(enabled bool, endpoint string, secrets interfaces.SecretStorage, logger arbor.ILogger) interfaces.Telemetry {
	if !enabled || endpoint == "" {
		return NoOp{}
	}
	return &Client{
		endpoint:   endpoint,
		secrets:    secrets,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type event struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TrackEvent sends a named event
func (c *Client) TrackEvent(name string, properties map[string]string) {
	go c.send(event{Name: name, Properties: properties, Timestamp: time.Now().UTC()})
}

// TrackException sends an exception event
func (c *Client) TrackException(err error, properties map[string]string) {
	props := make(map[string]string, len(properties)+1)
	for k, v := range properties {
		props[k] = v
	}
	props["error"] = err.Error()
	go c.send(event{Name: "exception", Properties: props, Timestamp: time.Now().UTC()})
}

func (c *Client) send(e event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := c.secrets.Get(ctx, models.SecretTelemetryKey)
	if err != nil {
		return // no instrumentation key, nothing to send
	}

	body, err := json.Marshal(e)
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Instrumentation-Key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug().Err(err).Str("event", e.Name).Msg("Telemetry send failed")
		}
		return
	}
	resp.Body.Close()
}
