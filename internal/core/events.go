package core

// Event types published on the engine bus.
const (
	EventRunStarted          = "run.started"
	EventRunFinished         = "run.finished"
	EventOperationExhausted  = "operation.exhausted"
	EventBreakerStateChanged = "breaker.state_changed"
	EventDeadLetterAdded     = "deadletter.added"
	EventMonitorAlert        = "monitor.alert"
)

// Event is a real-time notification about engine activity, delivered to
// SSE and WebSocket subscribers.
type Event struct {
	Type         string         `json:"type"`
	JobName      string         `json:"job_name,omitempty"`
	RunID        string         `json:"run_id,omitempty"`
	OperationKey string         `json:"operation_key,omitempty"`
	Timestamp    string         `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// NewEvent creates an event of the given type stamped with the current time.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Timestamp: NowFormatted()}
}

// EventPublisher publishes engine events to all interested subscribers.
type EventPublisher interface {
	Publish(event *Event) error
	Close() error
}

// EventSubscriber delivers engine events. The returned function cancels the
// subscription and closes the channel.
type EventSubscriber interface {
	// SubscribeAll subscribes to every event.
	SubscribeAll() (<-chan *Event, func(), error)
	// SubscribeJob subscribes to events for a single job.
	SubscribeJob(jobName string) (<-chan *Event, func(), error)
	// SubscribeType subscribes to events of a single type.
	SubscribeType(eventType string) (<-chan *Event, func(), error)
}
