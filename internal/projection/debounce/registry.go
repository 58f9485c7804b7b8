// Package debounce coalesces bursts of per-key work. Rapid successive
// schedules for the same key cancel and reschedule each other, so only the
// last one within the window runs. A single goroutine owns all timer state;
// callers interact through channels only.
package debounce

import (
	"sync"
	"time"
)

type scheduleCmd struct {
	key string
	fn  func()
}

type fireCmd struct {
	key    string
	ticket uint64
	fn     func()
}

type cancelCmd struct {
	key string
}

// Registry debounces callbacks per key with cancel-and-reschedule
// semantics.
type Registry struct {
	delay     time.Duration
	schedules chan scheduleCmd
	fires     chan fireCmd
	cancels   chan cancelCmd
	done      chan struct{}
	closeOnce sync.Once

	wg sync.WaitGroup
}

// New starts a registry whose callbacks run delay after the most recent
// Schedule for their key.
func New(delay time.Duration) *Registry {
	r := &Registry{
		delay:     delay,
		schedules: make(chan scheduleCmd),
		fires:     make(chan fireCmd),
		cancels:   make(chan cancelCmd),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Schedule queues fn to run after the debounce window. A newer Schedule for
// the same key supersedes this one.
func (r *Registry) Schedule(key string, fn func()) {
	select {
	case r.schedules <- scheduleCmd{key: key, fn: fn}:
	case <-r.done:
	}
}

// Cancel drops any pending callback for key.
func (r *Registry) Cancel(key string) {
	select {
	case r.cancels <- cancelCmd{key: key}:
	case <-r.done:
	}
}

// Close stops the registry and discards pending callbacks. It waits for
// callbacks already running to finish.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Registry) run() {
	type pending struct {
		ticket uint64
		timer  *time.Timer
	}
	tickets := map[string]pending{}
	var next uint64

	defer func() {
		for _, p := range tickets {
			p.timer.Stop()
		}
	}()

	for {
		select {
		case <-r.done:
			return

		case cmd := <-r.schedules:
			if p, ok := tickets[cmd.key]; ok {
				p.timer.Stop()
			}
			next++
			ticket := next
			key, fn := cmd.key, cmd.fn
			timer := time.AfterFunc(r.delay, func() {
				select {
				case r.fires <- fireCmd{key: key, ticket: ticket, fn: fn}:
				case <-r.done:
				}
			})
			tickets[key] = pending{ticket: ticket, timer: timer}

		case cmd := <-r.fires:
			p, ok := tickets[cmd.key]
			if !ok || p.ticket != cmd.ticket {
				continue // superseded or cancelled
			}
			delete(tickets, cmd.key)
			r.wg.Add(1)
			go func(fn func()) {
				defer r.wg.Done()
				fn()
			}(cmd.fn)

		case cmd := <-r.cancels:
			if p, ok := tickets[cmd.key]; ok {
				p.timer.Stop()
				delete(tickets, cmd.key)
			}
		}
	}
}
