package telemetry

import (
	"context"
	"log/slog"
)

// Worker runs every handler on every emitted event, one event at a time.
type Worker struct {
	log      *slog.Logger
	emitter  *Emitter
	handlers []Handler
}

func NewWorker(log *slog.Logger, emitter *Emitter, handlers ...Handler) *Worker {
	return &Worker{log: log, emitter: emitter, handlers: handlers}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-w.emitter.Events():
			w.handle(evt)
		}
	}
}

func (w *Worker) handle(event Event) {
	for _, h := range w.handlers {
		h.Handle(event)
	}
}
