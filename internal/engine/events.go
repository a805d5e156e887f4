package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Event is a lifecycle notification from the host.
type Event int

const (
	EventStart Event = iota
	EventPause
	EventResume
	EventStop
	EventStopPC
	EventDestroy
)

func (ev Event) String() string {
	switch ev {
	case EventStart:
		return "start"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventStop:
		return "stop"
	case EventStopPC:
		return "stop-pc"
	case EventDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("event(%d)", int(ev))
	}
}

// ParseEvent maps a name such as "stop" to an Event.
func ParseEvent(name string) (Event, error) {
	for ev := EventStart; ev <= EventDestroy; ev++ {
		if strings.EqualFold(name, ev.String()) {
			return ev, nil
		}
	}
	return 0, fmt.Errorf("unknown event %q", name)
}

// HandleEvent reacts to a lifecycle event. Stop and StopPC flush local
// commits to the remote and close the engine; a failed push is logged and
// the engine closes anyway. The other events need no action.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	e.log.Debug("lifecycle event", zap.Stringer("event", ev))
	switch ev {
	case EventStop, EventStopPC:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.world == nil {
			return nil
		}
		if e.world.NeedsPush() {
			if err := e.world.Push(ctx, false); err != nil {
				e.log.Warn("push on stop failed", zap.Error(err))
			}
		}
		return e.closeLocked()
	default:
		return nil
	}
}
