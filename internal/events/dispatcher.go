package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nexevent/participation-backend/internal/domain"
	"github.com/nexevent/participation-backend/internal/domain/projection"
	"github.com/nexevent/participation-backend/internal/pkg/logger"
)

// Handler processes change events for one entity kind. Handlers are invoked
// concurrently with no ordering guarantee and must tolerate redelivery of
// identical input.
type Handler interface {
	Kind() domain.EntityKind
	Handle(ctx context.Context, ev domain.ChangeEvent) error
}

// handlerTimeout bounds one handler invocation.
const handlerTimeout = 300 * time.Second

// Dispatcher routes change events to registered handlers. Handler failures
// are logged and counted but never propagated back to the publisher: a
// business write must succeed even when its projection does not.
type Dispatcher struct {
	log      *logger.Logger
	hooks    projection.Hooks
	handlers map[domain.EntityKind][]Handler
}

func NewDispatcher(baseLog *logger.Logger, hooks projection.Hooks) *Dispatcher {
	if hooks == nil {
		hooks = projection.NopHooks
	}
	return &Dispatcher{
		log:      baseLog.With("component", "ChangeDispatcher"),
		hooks:    hooks,
		handlers: map[domain.EntityKind][]Handler{},
	}
}

func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Kind()] = append(d.handlers[h.Kind()], h)
}

// Dispatch runs every handler registered for the event's kind.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.ChangeEvent) {
	handlers, ok := d.handlers[ev.Kind]
	if !ok {
		d.log.Debug("no handler registered for kind", "kind", ev.Kind)
		return
	}
	for _, h := range handlers {
		d.invoke(ctx, h, ev)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, ev domain.ChangeEvent) {
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return h.Handle(hctx, ev)
	}()
	op := "dispatch." + string(ev.Kind)
	d.hooks.ObserveOperation(op, projection.StatusOf(err), time.Since(start))
	if err != nil {
		d.log.Error("change handler failed",
			"kind", ev.Kind,
			"change", ev.Change,
			"entity_id", ev.EntityID,
			"event_id", ev.ID,
			"error", err,
		)
	}
}
