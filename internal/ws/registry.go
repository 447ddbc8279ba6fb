package ws

import "sync"

// interests is the reverse-index entry for one connection.
type interests struct {
	topics  map[string]struct{}
	symbols map[string]struct{}
}

// Registry is the subscription index: topic -> connection ids,
// symbol -> connection ids, and a reverse index used for O(own interests)
// cleanup on disconnect. All three indices mutate under one mutex so they
// can never disagree about a connection's interests.
type Registry struct {
	mu       sync.RWMutex
	byTopic  map[string]map[string]struct{}
	bySymbol map[string]map[string]struct{}
	byConn   map[string]*interests
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byTopic:  make(map[string]map[string]struct{}),
		bySymbol: make(map[string]map[string]struct{}),
		byConn:   make(map[string]*interests),
	}
}

// Subscribe idempotently records the connection's interest in the given
// topics and symbols.
func (r *Registry) Subscribe(connID string, topics, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rev, ok := r.byConn[connID]
	if !ok {
		rev = &interests{topics: make(map[string]struct{}), symbols: make(map[string]struct{})}
		r.byConn[connID] = rev
	}

	for _, topic := range topics {
		set, ok := r.byTopic[topic]
		if !ok {
			set = make(map[string]struct{})
			r.byTopic[topic] = set
		}
		set[connID] = struct{}{}
		rev.topics[topic] = struct{}{}
	}
	for _, symbol := range symbols {
		set, ok := r.bySymbol[symbol]
		if !ok {
			set = make(map[string]struct{})
			r.bySymbol[symbol] = set
		}
		set[connID] = struct{}{}
		rev.symbols[symbol] = struct{}{}
	}
}

// Unsubscribe idempotently removes interests. Topics or symbols the
// connection never held are ignored.
func (r *Registry) Unsubscribe(connID string, topics, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rev, ok := r.byConn[connID]
	if !ok {
		return
	}

	for _, topic := range topics {
		delete(rev.topics, topic)
		if set, ok := r.byTopic[topic]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
	for _, symbol := range symbols {
		delete(rev.symbols, symbol)
		if set, ok := r.bySymbol[symbol]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.bySymbol, symbol)
			}
		}
	}

	if len(rev.topics) == 0 && len(rev.symbols) == 0 {
		delete(r.byConn, connID)
	}
}

// RemoveAll drops every interest of the connection. Cost is proportional
// to that connection's own interests, not the registry size.
func (r *Registry) RemoveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rev, ok := r.byConn[connID]
	if !ok {
		return
	}
	for topic := range rev.topics {
		if set, ok := r.byTopic[topic]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byTopic, topic)
			}
		}
	}
	for symbol := range rev.symbols {
		if set, ok := r.bySymbol[symbol]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.bySymbol, symbol)
			}
		}
	}
	delete(r.byConn, connID)
}

// Interested returns the ids of every connection that should receive an
// event on the given topic: exact-topic subscribers, "all" subscribers,
// and symbol-scoped subscribers when symbol is non-empty. The result is a
// snapshot; callers deliver without holding the registry lock.
func (r *Registry) Interested(topic, symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for connID := range r.byTopic[topic] {
		seen[connID] = struct{}{}
	}
	for connID := range r.byTopic[TopicAll] {
		seen[connID] = struct{}{}
	}
	if symbol != "" {
		for connID := range r.bySymbol[symbol] {
			seen[connID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for connID := range seen {
		ids = append(ids, connID)
	}
	return ids
}

// InterestsOf returns a copy of the connection's current topics and
// symbols, in no particular order.
func (r *Registry) InterestsOf(connID string) (topics, symbols []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rev, ok := r.byConn[connID]
	if !ok {
		return nil, nil
	}
	topics = make([]string, 0, len(rev.topics))
	for t := range rev.topics {
		topics = append(topics, t)
	}
	symbols = make([]string, 0, len(rev.symbols))
	for s := range rev.symbols {
		symbols = append(symbols, s)
	}
	return topics, symbols
}

// TopicCounts returns the number of subscribers per topic.
func (r *Registry) TopicCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.byTopic))
	for topic, set := range r.byTopic {
		counts[topic] = len(set)
	}
	return counts
}
