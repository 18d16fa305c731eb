package core

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"payai/core/types"
)

const eventStreamHistoryLimit = 2048

// EventUpdate is a committed event as delivered to stream subscribers. Cursor
// is the decimal form of Sequence and can be passed back to resume a stream.
type EventUpdate struct {
	Sequence uint64      `json:"-"`
	Cursor   string      `json:"cursor"`
	Hash     string      `json:"hash"`
	Event    types.Event `json:"event"`
}

type eventStream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan EventUpdate
	history []EventUpdate
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if update.Event.Attributes != nil {
		cloned.Event.Attributes = make(map[string]string, len(update.Event.Attributes))
		for k, v := range update.Event.Attributes {
			cloned.Event.Attributes[k] = v
		}
	}
	return cloned
}

// publish sequences evt and offers it to every subscriber. Slow subscribers
// miss updates rather than stall the writer.
func (s *eventStream) publish(hash string, evt types.Event) {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan EventUpdate)
	}
	s.seq++
	update := EventUpdate{
		Sequence: s.seq,
		Cursor:   strconv.FormatUint(s.seq, 10),
		Hash:     hash,
		Event:    evt,
	}
	s.history = append(s.history, cloneEventUpdate(update))
	if len(s.history) > eventStreamHistoryLimit {
		excess := len(s.history) - eventStreamHistoryLimit
		trimmed := make([]EventUpdate, eventStreamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	subscribers := make([]chan EventUpdate, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneEventUpdate(update):
		default:
		}
	}
}

// SubscribeEvents registers a subscriber for committed events. The backlog
// holds the retained events sequenced after cursor; an empty or malformed
// cursor replays the whole retained history. The channel is closed when
// cancel is called or ctx ends.
func (n *Node) SubscribeEvents(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate) {
	s := &n.stream
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan EventUpdate)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]EventUpdate, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}
