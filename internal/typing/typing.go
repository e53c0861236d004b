// Package typing drives "agent is working" indicators. The scheduler talks
// to it only through the narrow Signaler interface; what consumes the signal
// (a chat transport sending typing actions, a UI, a log line) is wired by
// the gateway.
package typing

import (
	"sync"
	"time"
)

// Signaler receives activity transitions for a conversation. Implementations
// must not block: the scheduler calls these inline around task execution.
type Signaler interface {
	Started(conversationKey string)
	Stopped(conversationKey string)
}

// Listener observes activity transitions fanned out by a Notifier.
type Listener func(conversationKey string, active bool)

// Notifier is a refcounting Signaler: overlapping runs for one conversation
// keep the indicator on, and listeners see exactly one activation per
// busy period. Safe for concurrent use.
type Notifier struct {
	mu        sync.Mutex
	active    map[string]int // conversation key → in-flight runs
	listeners map[int]Listener
	nextID    int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{
		active:    make(map[string]int),
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener and returns its unsubscribe func.
func (n *Notifier) Subscribe(l Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Started increments the conversation's run count, notifying listeners on
// the zero→one transition.
func (n *Notifier) Started(conversationKey string) {
	n.mu.Lock()
	n.active[conversationKey]++
	fire := n.active[conversationKey] == 1
	listeners := n.snapshot()
	n.mu.Unlock()

	if fire {
		for _, l := range listeners {
			l(conversationKey, true)
		}
	}
}

// Stopped decrements the conversation's run count, notifying listeners on
// the one→zero transition. Unmatched calls are ignored.
func (n *Notifier) Stopped(conversationKey string) {
	n.mu.Lock()
	count, ok := n.active[conversationKey]
	if !ok {
		n.mu.Unlock()
		return
	}
	count--
	fire := count == 0
	if fire {
		delete(n.active, conversationKey)
	} else {
		n.active[conversationKey] = count
	}
	listeners := n.snapshot()
	n.mu.Unlock()

	if fire {
		for _, l := range listeners {
			l(conversationKey, false)
		}
	}
}

// Active reports whether the conversation has in-flight runs.
func (n *Notifier) Active(conversationKey string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active[conversationKey] > 0
}

func (n *Notifier) snapshot() []Listener {
	out := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		out = append(out, l)
	}
	return out
}

var _ Signaler = (*Notifier)(nil)

// Options configures a Controller.
type Options struct {
	Interval time.Duration // refresh cadence (default 5s)
	Refresh  func()        // invoked immediately, then every Interval while running
	OnStop   func()        // invoked once when stopped (optional)
}

// Controller re-fires a transport's typing action while a run is active.
// Chat platforms expire typing indicators after a few seconds, so the
// indicator must be refreshed until Stop.
type Controller struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	onStop   func()
}

// New starts a controller; it refreshes immediately and then on the interval
// until Stop is called.
func New(opts Options) *Controller {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	c := &Controller{
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		onStop: opts.OnStop,
	}

	if opts.Refresh != nil {
		opts.Refresh()
	}
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				// A tick and Stop can be ready at once; never refresh
				// once stopping.
				select {
				case <-c.stop:
					return
				default:
				}
				if opts.Refresh != nil {
					opts.Refresh()
				}
			}
		}
	}()
	return c
}

// Stop halts refreshing and waits for the loop to exit, so no Refresh call
// is in flight once it returns. Idempotent. Must not be called from inside
// the Refresh callback.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
		if c.onStop != nil {
			c.onStop()
		}
	})
}
