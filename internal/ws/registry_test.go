package ws

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySubscribeIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("c1", []string{TopicExecutions}, []string{"BTC/USDT"})
	r.Subscribe("c1", []string{TopicExecutions}, []string{"BTC/USDT"})
	r.Subscribe("c1", []string{TopicExecutions}, nil)

	topics, symbols := r.InterestsOf("c1")
	assert.ElementsMatch(t, []string{TopicExecutions}, topics)
	assert.ElementsMatch(t, []string{"BTC/USDT"}, symbols)
	assert.Equal(t, map[string]int{TopicExecutions: 1}, r.TopicCounts())
}

func TestRegistryUnsubscribeUnknownIsNoop(t *testing.T) {
	r := NewRegistry()

	r.Unsubscribe("ghost", []string{TopicProposals}, []string{"ETH/USDT"})
	r.Subscribe("c1", []string{TopicProposals}, nil)
	r.Unsubscribe("c1", []string{TopicAnalysis}, []string{"ETH/USDT"})

	topics, _ := r.InterestsOf("c1")
	assert.ElementsMatch(t, []string{TopicProposals}, topics)
}

func TestRegistryInterestedUnion(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("exact", []string{TopicExecutions}, nil)
	r.Subscribe("wildcard", []string{TopicAll}, nil)
	r.Subscribe("bySymbol", nil, []string{"BTC/USDT"})
	r.Subscribe("unrelated", []string{TopicHealth}, []string{"ETH/USDT"})

	got := r.Interested(TopicExecutions, "BTC/USDT")
	assert.ElementsMatch(t, []string{"exact", "wildcard", "bySymbol"}, got)

	// Without a symbol, symbol-scoped subscribers are not matched.
	got = r.Interested(TopicExecutions, "")
	assert.ElementsMatch(t, []string{"exact", "wildcard"}, got)
}

func TestRegistryInterestedDeduplicates(t *testing.T) {
	r := NewRegistry()

	// One connection subscribed three overlapping ways still appears once.
	r.Subscribe("c1", []string{TopicExecutions, TopicAll}, []string{"BTC/USDT"})

	got := r.Interested(TopicExecutions, "BTC/USDT")
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0])
}

func TestRegistryRemoveAll(t *testing.T) {
	r := NewRegistry()

	r.Subscribe("c1", []string{TopicExecutions, TopicProposals}, []string{"BTC/USDT"})
	r.Subscribe("c2", []string{TopicExecutions}, nil)
	r.RemoveAll("c1")

	topics, symbols := r.InterestsOf("c1")
	assert.Empty(t, topics)
	assert.Empty(t, symbols)
	assert.ElementsMatch(t, []string{"c2"}, r.Interested(TopicExecutions, "BTC/USDT"))
	assert.Equal(t, map[string]int{TopicExecutions: 1}, r.TopicCounts())

	// Removing twice is harmless.
	r.RemoveAll("c1")
}

// TestRegistryReplayEquivalence drives the registry through a random
// interleaving of subscribe/unsubscribe calls and checks the reverse
// index against a naive replay of the same sequence.
func TestRegistryReplayEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	r := NewRegistry()

	type op struct {
		sub    bool
		conn   string
		topic  string
		symbol string
	}

	conns := []string{"a", "b", "c"}
	topics := []string{TopicExecutions, TopicProposals, TopicMarket, TopicAll}
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"}

	var ops []op
	for i := 0; i < 500; i++ {
		ops = append(ops, op{
			sub:    rng.Intn(3) != 0,
			conn:   conns[rng.Intn(len(conns))],
			topic:  topics[rng.Intn(len(topics))],
			symbol: symbols[rng.Intn(len(symbols))],
		})
	}

	// Naive model: per-connection sets.
	modelTopics := make(map[string]map[string]struct{})
	modelSymbols := make(map[string]map[string]struct{})
	for _, c := range conns {
		modelTopics[c] = make(map[string]struct{})
		modelSymbols[c] = make(map[string]struct{})
	}

	for i, o := range ops {
		if o.sub {
			r.Subscribe(o.conn, []string{o.topic}, []string{o.symbol})
			modelTopics[o.conn][o.topic] = struct{}{}
			modelSymbols[o.conn][o.symbol] = struct{}{}
		} else {
			r.Unsubscribe(o.conn, []string{o.topic}, []string{o.symbol})
			delete(modelTopics[o.conn], o.topic)
			delete(modelSymbols[o.conn], o.symbol)
		}

		for _, c := range conns {
			gotTopics, gotSymbols := r.InterestsOf(c)
			require.ElementsMatch(t, keys(modelTopics[c]), gotTopics,
				fmt.Sprintf("topics diverged for %s after op %d", c, i))
			require.ElementsMatch(t, keys(modelSymbols[c]), gotSymbols,
				fmt.Sprintf("symbols diverged for %s after op %d", c, i))
		}
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
