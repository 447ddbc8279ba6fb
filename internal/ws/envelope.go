// Package ws implements the connection and subscription manager: the wire
// protocol envelope, the topic registry, per-connection sessions with
// bounded drop-oldest send queues, and the top-level manager producers
// publish through.
package ws

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Control message types exchanged between client and server.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

// Client request types.
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypeGetStatus        = "get_status"
	TypeGetSubscriptions = "get_subscriptions"
)

// Domain event types pushed to subscribers.
const (
	TypeAnalysisUpdate   = "analysis_update"
	TypeProposalCreated  = "proposal_created"
	TypeProposalApproved = "proposal_approved"
	TypeTradeExecuted    = "trade_executed"
	TypeStatusChange     = "status_change"
	TypeMarketUpdate     = "market_update"
	TypePortfolioUpdate  = "portfolio_update"
	TypeHealthUpdate     = "health_update"
	TypeAlert            = "alert"
	TypeWarning          = "warning"
	TypeSystemStatus     = "system_status"

	// TypeOther is the passthrough tag for publishes on unrecognized topics.
	TypeOther = "other"
)

// Subscription topics clients may request.
const (
	TopicAll        = "all"
	TopicProposals  = "proposals"
	TopicExecutions = "executions"
	TopicAnalysis   = "analysis"
	TopicStatus     = "status"
	TopicMarket     = "market"
	TopicPortfolio  = "portfolio"
	TopicHealth     = "health"
	TopicAlerts     = "alerts"
)

var validTopics = map[string]struct{}{
	TopicAll:        {},
	TopicProposals:  {},
	TopicExecutions: {},
	TopicAnalysis:   {},
	TopicStatus:     {},
	TopicMarket:     {},
	TopicPortfolio:  {},
	TopicHealth:     {},
	TopicAlerts:     {},
}

// ValidTopic reports whether clients may subscribe to the given topic.
func ValidTopic(topic string) bool {
	_, ok := validTopics[topic]
	return ok
}

// topicEventTypes maps a publish topic to the event type its envelopes
// carry on the wire.
var topicEventTypes = map[string]string{
	TopicProposals:  TypeProposalCreated,
	TopicExecutions: TypeTradeExecuted,
	TopicAnalysis:   TypeAnalysisUpdate,
	TopicStatus:     TypeStatusChange,
	TopicMarket:     TypeMarketUpdate,
	TopicPortfolio:  TypePortfolioUpdate,
	TopicHealth:     TypeHealthUpdate,
	TopicAlerts:     TypeAlert,
}

// EventTypeForTopic resolves the wire event type for a topic, defaulting
// unknown topics to the generic passthrough type.
func EventTypeForTopic(topic string) string {
	if t, ok := topicEventTypes[topic]; ok {
		return t
	}
	return TypeOther
}

// Envelope is the unit of protocol communication. It is immutable once
// constructed and serialized at most once per publish.
type Envelope struct {
	Type         string      `json:"type"`
	Data         interface{} `json:"data,omitempty"`
	Timestamp    string      `json:"timestamp,omitempty"`
	ConnectionID string      `json:"connection_id,omitempty"`
}

// NewEnvelope stamps an envelope with the current time in RFC3339.
func NewEnvelope(eventType string, data interface{}) Envelope {
	return Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ClientMessage is the shape of every inbound client message.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionRequest carries the topics and symbols of a subscribe or
// unsubscribe request.
type SubscriptionRequest struct {
	Topics  []string `json:"topics"`
	Symbols []string `json:"symbols"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ConnectedPayload is the data of the connected envelope.
type ConnectedPayload struct {
	ConnectionID  string `json:"connection_id"`
	ServerVersion string `json:"server_version,omitempty"`
}

// Typed payloads for the domain events. Producers may pass any value to
// Publish; these are the shapes the dashboard clients expect.

// MarketTick is a market_update entry for one symbol.
type MarketTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Change24h decimal.Decimal `json:"change_24h"`
}

// TradeExecution is the payload of a trade_executed event.
type TradeExecution struct {
	ProposalID  string          `json:"proposal_id,omitempty"`
	Symbol      string          `json:"symbol"`
	Action      string          `json:"action"`
	Size        decimal.Decimal `json:"size"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	OrderID     string          `json:"order_id,omitempty"`
	Status      string          `json:"status"`
}

// Proposal is the payload of proposal_created and proposal_approved events.
type Proposal struct {
	ProposalID string          `json:"proposal_id"`
	Symbol     string          `json:"symbol"`
	Action     string          `json:"action"`
	Size       decimal.Decimal `json:"size"`
	Reason     string          `json:"reason,omitempty"`
	ApprovedBy string          `json:"approved_by,omitempty"`
	ApprovedAt string          `json:"approved_at,omitempty"`
}

// Position is one holding inside a PortfolioSnapshot.
type Position struct {
	Symbol string          `json:"symbol"`
	Size   decimal.Decimal `json:"size"`
	Value  decimal.Decimal `json:"value"`
}

// PortfolioSnapshot is the payload of a portfolio_update event.
type PortfolioSnapshot struct {
	TotalValue      decimal.Decimal `json:"total_value"`
	AvailableCash   decimal.Decimal `json:"available_cash"`
	Positions       []Position      `json:"positions"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalPnLPercent decimal.Decimal `json:"total_pnl_percent"`
}

// HealthSnapshot is the payload of a health_update event.
type HealthSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	ProcessCount  int     `json:"process_count"`
}

// Alert is the payload of alert and warning events.
type Alert struct {
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	ActionRequired string `json:"action_required,omitempty"`
}
