// Package poll implements the readiness primitive the socket components
// suspend on: a per-object event bitmask (Pollee) and a single-use wait
// point (Poller). Completion callbacks raise bits on a Pollee; a task that
// found no interesting bits parks in Poller.Wait until one is raised.
package poll

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Events is a bitmask of readiness event kinds, using poll(2) bit values.
type Events uint32

const (
	// In indicates data (or an accepted connection) is ready to consume.
	In Events = Events(unix.POLLIN)
	// Out indicates buffer space is ready for producing.
	Out Events = Events(unix.POLLOUT)
	// Err indicates a sticky error has been latched.
	Err Events = Events(unix.POLLERR)
	// Hup indicates the peer or the local side hung up.
	Hup Events = Events(unix.POLLHUP)
)

// alwaysPolled are reported to every poll regardless of the requested mask,
// matching poll(2) semantics for POLLERR and POLLHUP.
const alwaysPolled = Err | Hup

// Pollee holds the readiness state of one pollable object and the set of
// pollers currently waiting on it. Registration is single-shot: a woken
// poller is deregistered and must be re-registered through Poll before the
// next wait.
type Pollee struct {
	mu       sync.Mutex
	events   Events
	watchers map[*Poller]Events
}

// NewPollee creates a pollee with the given initial readiness.
func NewPollee(initial Events) *Pollee {
	return &Pollee{
		events:   initial,
		watchers: make(map[*Poller]Events),
	}
}

// Poll returns the currently-raised events that intersect mask (Err and Hup
// are always reported) and, if p is non-nil, registers p to be woken when
// any such event is raised later. The check and the registration happen
// atomically, so a wakeup between Poll and Wait is never lost.
func (pe *Pollee) Poll(mask Events, p *Poller) Events {
	interest := mask | alwaysPolled
	pe.mu.Lock()
	if p != nil {
		pe.watchers[p] = interest
	}
	ready := pe.events & interest
	pe.mu.Unlock()
	return ready
}

// Add raises events and wakes every registered poller interested in them.
func (pe *Pollee) Add(ev Events) {
	pe.mu.Lock()
	pe.events |= ev
	for p, interest := range pe.watchers {
		if interest&ev != 0 {
			p.wake(ev)
			delete(pe.watchers, p)
		}
	}
	pe.mu.Unlock()
}

// Remove lowers events. It never wakes anyone.
func (pe *Pollee) Remove(ev Events) {
	pe.mu.Lock()
	pe.events &^= ev
	pe.mu.Unlock()
}

// Events returns the currently-raised events.
func (pe *Pollee) Events() Events {
	pe.mu.Lock()
	ev := pe.events
	pe.mu.Unlock()
	return ev
}

// Poller is the suspension point of one waiting task. A Poller may be
// reused across loop iterations; each iteration re-registers it via Poll.
type Poller struct {
	ch chan Events
}

// NewPoller creates an unregistered poller.
func NewPoller() *Poller {
	return &Poller{ch: make(chan Events, 1)}
}

// Wait blocks until some event the poller registered interest in is raised.
// Spurious returns are possible (a stale notification from an earlier
// registration); callers re-check state in their retry loop.
func (p *Poller) Wait() {
	<-p.ch
}

func (p *Poller) wake(ev Events) {
	select {
	case p.ch <- ev:
	default:
	}
}
