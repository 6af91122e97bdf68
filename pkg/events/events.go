package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/diagnosis/lenslink/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

const headerEventID = "Event-Id"

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url, name string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	msg := nats.NewMsg(subject)
	msg.Data = payload
	msg.Header.Set(headerEventID, uuid.NewString())
	return n.conn.PublishMsg(msg)
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(toMessage(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func toMessage(msg *nats.Msg) *Message {
	id := msg.Header.Get(headerEventID)
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        id,
	}
}

// Subjects
const (
	BookingCreated   = "booking.created"
	BookingConfirmed = "booking.confirmed"
	BookingDeclined  = "booking.declined"
	BookingCancelled = "booking.cancelled"
	BookingExpired   = "booking.expired"
	BookingCompleted = "booking.completed"

	MeetingPointUpdated = "meeting_point.updated"

	EditingRequested         = "editing.requested"
	EditingAccepted          = "editing.accepted"
	EditingStarted           = "editing.started"
	EditingDelivered         = "editing.delivered"
	EditingRevisionRequested = "editing.revision_requested"
	EditingApproved          = "editing.approved"
	EditingDeclined          = "editing.declined"

	EarningHeld      = "earning.held"
	EarningAvailable = "earning.available"
	EarningPaid      = "earning.paid"

	// Published by the payments service when the processor reports a
	// transfer to the photographer.
	PayoutCompleted = "earning.payout.completed"
)

// Event payloads
type BookingStatusEvent struct {
	BookingID  string    `json:"booking_id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type MeetingPointUpdatedEvent struct {
	BookingID  string    `json:"booking_id"`
	CustomerID string    `json:"customer_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Note       string    `json:"note"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type EditingEvent struct {
	EditingRequestID string    `json:"editing_request_id"`
	BookingID        string    `json:"booking_id"`
	Status           string    `json:"status"`
	RevisionCount    int       `json:"revision_count"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type EarningEvent struct {
	EarningID  string    `json:"earning_id"`
	BookingID  string    `json:"booking_id"`
	ProviderID string    `json:"provider_id"`
	Status     string    `json:"status"`
	NetAmount  int64     `json:"net_amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

type PayoutCompletedEvent struct {
	EarningID  string    `json:"earning_id"`
	TransferID string    `json:"transfer_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	PaidAt     time.Time `json:"paid_at"`
}
