package audit

import (
	"context"
	"errors"
)

// ErrListUnsupported is returned by sinks that only forward events.
var ErrListUnsupported = errors.New("audit: listing not supported on a channel sink")

// ChannelSink forwards appended events into a channel so a Worker can
// persist them off the request path. A full channel drops the event rather
// than blocking a mutating operation.
type ChannelSink struct {
	ch chan<- Event
}

func NewChannelSink(ch chan<- Event) *ChannelSink {
	return &ChannelSink{ch: ch}
}

func (s *ChannelSink) Append(_ context.Context, event Event) error {
	select {
	case s.ch <- event:
	default:
	}
	return nil
}

func (s *ChannelSink) ListByUser(context.Context, string) ([]Event, error) {
	return nil, ErrListUnsupported
}
