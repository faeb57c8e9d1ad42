package llmclient

import "io"

// channelStream runs a producer function on its own goroutine and yields
// its emitted Events to Recv() callers in order, closing the channel
// when the producer returns (converting any returned error to a final
// AgentError event).
type channelStream struct {
	events chan Event
	done   chan struct{}
}

func newChannelStream(produce func(emit func(Event)) error) *channelStream {
	s := &channelStream{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.events)
		err := produce(func(ev Event) { s.events <- ev })
		if err != nil {
			s.events <- Event{Kind: EventAgentError, Err: err}
		}
	}()
	return s
}

func (s *channelStream) Recv() (Event, error) {
	ev, ok := <-s.events
	if !ok {
		return Event{}, io.EOF
	}
	return ev, nil
}

func (s *channelStream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}
