package client

import "encoding/json"

// Message types the server sends.
const (
	TypeConnected    = "connected"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"

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
)

// Request types the client sends.
const (
	TypeSubscribe        = "subscribe"
	TypeUnsubscribe      = "unsubscribe"
	TypeGetStatus        = "get_status"
	TypeGetSubscriptions = "get_subscriptions"
)

// Topics available for subscription.
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

// Envelope is one server message. Data is left raw for the consumer to
// decode against the payload shape the Type implies.
type Envelope struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    string          `json:"timestamp,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

// SubscriptionRequest is the data of subscribe and unsubscribe requests,
// and of the subscribed/unsubscribed echoes.
type SubscriptionRequest struct {
	Topics  []string `json:"topics"`
	Symbols []string `json:"symbols"`
}
