package projection

import "time"

// Hooks captures maintainer-level observability events.
type Hooks interface {
	ObserveOperation(name, status string, dur time.Duration)
	IncConflict(name string)
	IncRetry(name string)
}

type nopHooks struct{}

func (nopHooks) ObserveOperation(string, string, time.Duration) {}
func (nopHooks) IncConflict(string)                             {}
func (nopHooks) IncRetry(string)                                {}

// NopHooks is the default when no metrics sink is wired.
var NopHooks Hooks = nopHooks{}

// StatusOf maps an operation error onto the metric status label.
func StatusOf(err error) string {
	if err == nil {
		return "success"
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return "failure"
}
