package main

import (
	"fmt"
	"sync"

	"normgate/internal/requirement"
)

// watchEvent is one frame pushed to SSE and websocket watchers. A state frame
// carries the full snapshot; complete and error frames are terminal.
type watchEvent struct {
	EvaluationID string                        `json:"evaluationId"`
	Type         string                        `json:"type"`
	States       []requirement.EvaluationState `json:"states,omitempty"`
	RootDecision *bool                         `json:"rootDecision,omitempty"`
	Error        string                        `json:"error,omitempty"`
}

const (
	eventState    = "state"
	eventComplete = "complete"
	eventError    = "error"
)

// watchRegistry fans evaluation progress out to any number of watchers. The
// last event is replayed to late subscribers so a watcher attached after the
// run finished still sees the outcome.
type watchRegistry struct {
	mu    sync.RWMutex
	evals map[string]*watchStream
}

type watchStream struct {
	mu   sync.Mutex
	subs map[int]chan watchEvent
	next int
	last *watchEvent
	done bool
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{evals: make(map[string]*watchStream)}
}

func (r *watchRegistry) create(evaluationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evals[evaluationID] = &watchStream{subs: make(map[int]chan watchEvent)}
}

// subscribe returns the event channel and a cancel func. The stream's last
// event, if any, is delivered first.
func (r *watchRegistry) subscribe(evaluationID string) (<-chan watchEvent, func(), error) {
	r.mu.RLock()
	s := r.evals[evaluationID]
	r.mu.RUnlock()
	if s == nil {
		return nil, nil, fmt.Errorf("evaluation %s not found", evaluationID)
	}

	ch := make(chan watchEvent, 32)
	s.mu.Lock()
	if s.last != nil {
		ch <- *s.last
	}
	if s.done {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}, nil
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// publish delivers the event to every live watcher. Slow watchers drop
// frames rather than stall the evaluation; the terminal frame closes the
// stream and is always retained for replay.
func (r *watchRegistry) publish(evaluationID string, ev watchEvent) {
	r.mu.RLock()
	s := r.evals[evaluationID]
	r.mu.RUnlock()
	if s == nil {
		return
	}

	terminal := ev.Type != eventState

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.last = &ev
	for id, sub := range s.subs {
		select {
		case sub <- ev:
		default:
		}
		if terminal {
			delete(s.subs, id)
			close(sub)
		}
	}
	if terminal {
		s.done = true
	}
}
