package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeStampsTimestamp(t *testing.T) {
	env := NewEnvelope(TypeTradeExecuted, map[string]string{"symbol": "BTC/USDT"})
	assert.Equal(t, TypeTradeExecuted, env.Type)

	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
}

func TestEnvelopeEncodeOmitsEmptyFields(t *testing.T) {
	data, err := Envelope{Type: TypePing}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))
}

func TestValidTopic(t *testing.T) {
	for _, topic := range []string{
		TopicAll, TopicProposals, TopicExecutions, TopicAnalysis,
		TopicStatus, TopicMarket, TopicPortfolio, TopicHealth, TopicAlerts,
	} {
		assert.True(t, ValidTopic(topic), topic)
	}
	assert.False(t, ValidTopic("orders"))
	assert.False(t, ValidTopic(""))
	assert.False(t, ValidTopic("ALL"))
}

func TestEventTypeForTopic(t *testing.T) {
	assert.Equal(t, TypeTradeExecuted, EventTypeForTopic(TopicExecutions))
	assert.Equal(t, TypeProposalCreated, EventTypeForTopic(TopicProposals))
	assert.Equal(t, TypeMarketUpdate, EventTypeForTopic(TopicMarket))
	assert.Equal(t, TypeHealthUpdate, EventTypeForTopic(TopicHealth))
	assert.Equal(t, TypeOther, EventTypeForTopic("something-custom"))
}

func TestTradeExecutionDecimalsOnTheWire(t *testing.T) {
	exec := TradeExecution{
		Symbol:      "BTC/USDT",
		Action:      "buy",
		Size:        decimal.RequireFromString("0.125"),
		FilledPrice: decimal.RequireFromString("64250.50"),
		Status:      "filled",
	}
	data, err := NewEnvelope(TypeTradeExecuted, exec).Encode()
	require.NoError(t, err)

	var decoded struct {
		Data TradeExecution `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Data.Size.Equal(exec.Size))
	assert.True(t, decoded.Data.FilledPrice.Equal(exec.FilledPrice))
}

func TestClientMessageDecoding(t *testing.T) {
	raw := []byte(`{"type":"subscribe","data":{"topics":["executions"],"symbols":["BTC/USDT"]}}`)

	var msg ClientMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, TypeSubscribe, msg.Type)

	var req SubscriptionRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	assert.Equal(t, []string{TopicExecutions}, req.Topics)
	assert.Equal(t, []string{"BTC/USDT"}, req.Symbols)
}
