package experiment

import (
	"context"
	"log/slog"

	"github.com/boristopalov/toolgym/pkg/messaging"
)

const eventsSubscriber = "experiment-log"

// LogEvents logs every event published on broker until ctx is done or the
// returned stop func is called.
func LogEvents(ctx context.Context, broker messaging.Broker) (stop func(), err error) {
	ch := make(chan messaging.Event, 256)
	if err := broker.Subscribe(eventsSubscriber, ch); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				// flush what is already buffered
				for {
					select {
					case evt := <-ch:
						logEvent(evt)
					default:
						return
					}
				}
			case evt := <-ch:
				logEvent(evt)
			}
		}
	}()

	return func() {
		_ = broker.Unsubscribe(eventsSubscriber)
		cancel()
		<-done
	}, nil
}

func logEvent(evt messaging.Event) {
	attrs := []any{"kind", evt.Kind}
	if evt.EpisodeID != "" {
		attrs = append(attrs, "episode", evt.EpisodeID)
	}
	if evt.Detail != "" {
		attrs = append(attrs, "detail", evt.Detail)
	}
	if evt.Err != nil {
		attrs = append(attrs, "err", evt.Err)
		slog.Warn("event", attrs...)
		return
	}
	slog.Debug("event", attrs...)
}
