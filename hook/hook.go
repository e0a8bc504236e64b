// Package hook implements the named action and filter extension points that
// plugins, themes and the core use to observe or transform values.
package hook

import (
	"context"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultPriority is used when a callback does not ask for a specific slot.
const DefaultPriority = 10

var dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cms",
	Subsystem: "hook",
	Name:      "dispatch_total",
	Help:      "Number of action and filter dispatches by core hook name; other hooks count as custom.",
}, []string{"kind", "hook"})

// ActionFunc observes an action.
type ActionFunc func(ctx context.Context, args ...any)

// FilterFunc receives the current value and returns the value passed to the
// next filter.
type FilterFunc func(ctx context.Context, value any, args ...any) any

// ID identifies a registered callback.
type ID uint64

type kind int

const (
	kindAction kind = iota
	kindFilter
)

func (k kind) String() string {
	if k == kindFilter {
		return "filter"
	}
	return "action"
}

type callback struct {
	id       ID
	owner    string
	priority int
	seq      uint64
	action   ActionFunc
	filter   FilterFunc
}

// Dispatcher holds the registered callbacks for every hook name.
type Dispatcher struct {
	mu      sync.RWMutex
	actions map[string][]callback
	filters map[string][]callback
	fired   map[string]int
	nextID  ID
	seq     uint64
	log     *zap.SugaredLogger
}

// NewDispatcher creates an empty dispatcher. A nil logger disables logging.
func NewDispatcher(log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		actions: make(map[string][]callback),
		filters: make(map[string][]callback),
		fired:   make(map[string]int),
		log:     log,
	}
}

// AddAction registers fn for the named action. owner tags the callback so
// that all callbacks of one plugin can be dropped at once.
func (d *Dispatcher) AddAction(name, owner string, fn ActionFunc, priority int) ID {
	return d.add(d.actions, name, callback{owner: owner, priority: priority, action: fn})
}

// AddFilter registers fn for the named filter.
func (d *Dispatcher) AddFilter(name, owner string, fn FilterFunc, priority int) ID {
	return d.add(d.filters, name, callback{owner: owner, priority: priority, filter: fn})
}

func (d *Dispatcher) add(table map[string][]callback, name string, cb callback) ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	d.seq++
	cb.id = d.nextID
	cb.seq = d.seq

	list := append(table[name], cb)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority < list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	table[name] = list
	return cb.id
}

// Remove drops a single callback from the named hook.
func (d *Dispatcher) Remove(name string, id ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, table := range []map[string][]callback{d.actions, d.filters} {
		list := table[name]
		for i, cb := range list {
			if cb.id == id {
				table[name] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// RemoveOwner drops every callback registered by owner and returns how many
// were removed.
func (d *Dispatcher) RemoveOwner(owner string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for _, table := range []map[string][]callback{d.actions, d.filters} {
		for name, list := range table {
			kept := make([]callback, 0, len(list))
			for _, cb := range list {
				if cb.owner == owner {
					removed++
					continue
				}
				kept = append(kept, cb)
			}
			if len(kept) == 0 {
				delete(table, name)
			} else {
				table[name] = kept
			}
		}
	}
	return removed
}

// HasAction reports whether any callback is registered for the action.
func (d *Dispatcher) HasAction(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.actions[name]) > 0
}

// HasFilter reports whether any callback is registered for the filter.
func (d *Dispatcher) HasFilter(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.filters[name]) > 0
}

// Did returns how many times the named action has been fired.
func (d *Dispatcher) Did(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fired[name]
}

func (d *Dispatcher) snapshot(table map[string][]callback, name string) []callback {
	list := table[name]
	out := make([]callback, len(list))
	copy(out, list)
	return out
}

// DoAction calls every callback registered for the action in priority order.
func (d *Dispatcher) DoAction(ctx context.Context, name string, args ...any) {
	d.mu.Lock()
	d.fired[name]++
	callbacks := d.snapshot(d.actions, name)
	d.mu.Unlock()

	dispatchTotal.WithLabelValues(kindAction.String(), metricHookName(name)).Inc()

	for _, cb := range callbacks {
		d.runAction(ctx, name, cb, args)
	}
}

// ApplyFilters passes value through every filter registered for name and
// returns the final value.
func (d *Dispatcher) ApplyFilters(ctx context.Context, name string, value any, args ...any) any {
	d.mu.RLock()
	callbacks := d.snapshot(d.filters, name)
	d.mu.RUnlock()

	dispatchTotal.WithLabelValues(kindFilter.String(), metricHookName(name)).Inc()

	for _, cb := range callbacks {
		value = d.runFilter(ctx, name, cb, value, args)
	}
	return value
}

func (d *Dispatcher) runAction(ctx context.Context, name string, cb callback, args []any) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("Action %s callback from %q panicked: %v", name, cb.owner, r)
		}
	}()
	cb.action(ctx, args...)
}

func (d *Dispatcher) runFilter(ctx context.Context, name string, cb callback, value any, args []any) (out any) {
	out = value
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("Filter %s callback from %q panicked: %v", name, cb.owner, r)
			out = value
		}
	}()
	return cb.filter(ctx, value, args...)
}

// Apply runs the named filter over a typed value. A filter result of the
// wrong type is discarded and the input value returned.
func Apply[T any](ctx context.Context, d *Dispatcher, name string, value T, args ...any) T {
	out := d.ApplyFilters(ctx, name, value, args...)
	typed, ok := out.(T)
	if !ok {
		d.log.Warnf("Filter %s returned %T, expected %T; keeping original value", name, out, value)
		return value
	}
	return typed
}
