package commbus

import "time"

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents a single-handler message whose error
	// is returned to the sender.
	MessageCategoryCommand MessageCategory = "command"
)

// Message type names used for routing.
const (
	TypeRunStarted         = "RunStarted"
	TypeTransitionRecorded = "TransitionRecorded"
	TypeRunCompleted       = "RunCompleted"
	TypeDeliveryCompleted  = "DeliveryCompleted"
	TypeDeliverRFP         = "DeliverRFP"
	TypeGetEngineConfig    = "GetEngineConfig"
)

// =============================================================================
// RUN LIFECYCLE EVENTS
// =============================================================================

// RunStarted is emitted when the engine accepts a request.
// Subscribers: progress display, audit logging.
type RunStarted struct {
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id,omitempty"`
	Requester string    `json:"requester"`
	Subject   string    `json:"subject"`
	Budget    float64   `json:"budget"`
	Currency  string    `json:"currency"`
	At        time.Time `json:"at"`
}

// Category implements the Message interface.
func (m *RunStarted) Category() string { return string(MessageCategoryEvent) }

// TransitionRecorded is emitted for every entry appended to a run's log.
type TransitionRecorded struct {
	RunID      string    `json:"run_id"`
	Seq        int       `json:"seq"`
	Stage      string    `json:"stage"`
	Attempt    int       `json:"attempt"`
	State      string    `json:"state"`
	Next       string    `json:"next"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Category implements the Message interface.
func (m *TransitionRecorded) Category() string { return string(MessageCategoryEvent) }

// RunCompleted is emitted once a run reaches a terminal state.
type RunCompleted struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Issues     []string  `json:"issues,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Category implements the Message interface.
func (m *RunCompleted) Category() string { return string(MessageCategoryEvent) }

// DeliveryCompleted is emitted after an approved document was handed to a deliverer.
type DeliveryCompleted struct {
	RunID     string    `json:"run_id"`
	Deliverer string    `json:"deliverer"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Category implements the Message interface.
func (m *DeliveryCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// COMMANDS
// =============================================================================

// DeliverRFP asks the registered delivery handler to send an approved RFP.
type DeliverRFP struct {
	RunID       string   `json:"run_id"`
	RequestID   string   `json:"request_id,omitempty"`
	Title       string   `json:"title"`
	RFPCategory string   `json:"category"`
	Markdown    string   `json:"markdown"`
	Recipients  []string `json:"recipients"`
}

// Category implements the Message interface.
func (m *DeliverRFP) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// QUERIES
// =============================================================================

// GetEngineConfig asks for the active engine configuration.
type GetEngineConfig struct{}

// Category implements the Message interface.
func (m *GetEngineConfig) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetEngineConfig) IsQuery() {}

// EngineConfigResponse is the answer to GetEngineConfig.
type EngineConfigResponse struct {
	Config map[string]any `json:"config"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their own type name.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	switch msg.(type) {
	case *RunStarted:
		return TypeRunStarted
	case *TransitionRecorded:
		return TypeTransitionRecorded
	case *RunCompleted:
		return TypeRunCompleted
	case *DeliveryCompleted:
		return TypeDeliveryCompleted
	case *DeliverRFP:
		return TypeDeliverRFP
	case *GetEngineConfig:
		return TypeGetEngineConfig
	default:
		return "Unknown"
	}
}
