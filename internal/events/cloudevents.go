package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/dshills/docingest-mcp/pkg/types"
)

// CloudEvents attributes of forwarded status events
const (
	EventType     = "io.docingest.document.status"
	DefaultSource = "docingest"
)

// ErrNotAcknowledged is returned when the webhook rejects an event
var ErrNotAcknowledged = errors.New("event not acknowledged")

// CloudEventsSink forwards status events to an HTTP webhook as CloudEvents
type CloudEventsSink struct {
	client  cloudevents.Client
	target  string
	source  string
	timeout time.Duration
	logger  *slog.Logger
}

// SinkOption configures a CloudEventsSink
type SinkOption func(*CloudEventsSink)

// WithSource sets the ce-source attribute
func WithSource(source string) SinkOption {
	return func(s *CloudEventsSink) { s.source = source }
}

// WithSendTimeout bounds each delivery
func WithSendTimeout(d time.Duration) SinkOption {
	return func(s *CloudEventsSink) { s.timeout = d }
}

// WithSinkLogger sets the logger
func WithSinkLogger(logger *slog.Logger) SinkOption {
	return func(s *CloudEventsSink) { s.logger = logger }
}

// NewCloudEventsSink creates a sink posting to target
func NewCloudEventsSink(target string, opts ...SinkOption) (*CloudEventsSink, error) {
	if target == "" {
		return nil, errors.New("cloudevents sink requires a target URL")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	s := &CloudEventsSink{
		client:  client,
		target:  target,
		source:  DefaultSource,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cloudevents_sink")
	return s, nil
}

// ToCloudEvent wraps a status event in a CloudEvents envelope. The subject
// is the document ID so receivers can partition by document.
func ToCloudEvent(source string, ev types.StatusEvent) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(source)
	e.SetType(EventType)
	e.SetSubject(ev.DocumentID)
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e.SetTime(ts)
	if err := e.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return e, fmt.Errorf("failed to encode event data: %w", err)
	}
	return e, nil
}

// Send delivers one event and waits for the acknowledgement
func (s *CloudEventsSink) Send(ctx context.Context, ev types.StatusEvent) error {
	e, err := ToCloudEvent(s.source, ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := s.client.Send(cloudevents.ContextWithTarget(ctx, s.target), e)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("%w: %v", ErrNotAcknowledged, result)
	}
	return nil
}

// Run forwards events from ch until it closes or ctx ends. Delivery
// failures are logged and do not stop the loop.
func (s *CloudEventsSink) Run(ctx context.Context, ch <-chan types.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Send(ctx, ev); err != nil {
				s.logger.Warn("failed to forward status event",
					"document_id", ev.DocumentID, "status", ev.Status, "error", err)
			}
		}
	}
}
