package poll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolleeInitialEvents(t *testing.T) {
	pe := NewPollee(In)
	assert.Equal(t, In, pe.Poll(In, nil))
	assert.Equal(t, Events(0), pe.Poll(Out, nil))
}

func TestPolleeAddRemove(t *testing.T) {
	pe := NewPollee(0)
	pe.Add(In | Out)
	assert.Equal(t, In|Out, pe.Events())

	pe.Remove(In)
	assert.Equal(t, Out, pe.Events())
	assert.Equal(t, Events(0), pe.Poll(In, nil))
}

// Err and Hup are reported regardless of the requested mask, matching
// poll(2).
func TestPolleeErrHupAlwaysReported(t *testing.T) {
	pe := NewPollee(0)
	pe.Add(Err)
	assert.Equal(t, Err, pe.Poll(In, nil))

	pe.Add(Hup)
	assert.Equal(t, Err|Hup, pe.Poll(0, nil))
}

func TestPollerWake(t *testing.T) {
	pe := NewPollee(0)
	p := NewPoller()
	require.Equal(t, Events(0), pe.Poll(In, p))

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	pe.Add(In)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller not woken by Add")
	}
}

// The register-then-check in Poll must not lose a wakeup that lands
// between the readiness check and the Wait call.
func TestPollNoLostWakeup(t *testing.T) {
	pe := NewPollee(0)
	p := NewPoller()

	// Register interest first; the event arrives before Wait.
	require.Equal(t, Events(0), pe.Poll(In, p))
	pe.Add(In)

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wakeup lost between Poll and Wait")
	}
}

// A woken poller is deregistered: a second Add must not wake it again
// without re-registration.
func TestPollerSingleShot(t *testing.T) {
	pe := NewPollee(0)
	p := NewPoller()

	pe.Poll(In, p)
	pe.Add(In)
	p.Wait()

	pe.Remove(In)
	pe.Add(In)
	select {
	case <-p.ch:
		t.Fatal("deregistered poller woken again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPolleeWakesOnlyInterested(t *testing.T) {
	pe := NewPollee(0)
	in := NewPoller()
	out := NewPoller()
	pe.Poll(In, in)
	pe.Poll(Out, out)

	pe.Add(Out)
	select {
	case <-out.ch:
	case <-time.After(time.Second):
		t.Fatal("interested poller not woken")
	}
	select {
	case <-in.ch:
		t.Fatal("uninterested poller woken")
	case <-time.After(50 * time.Millisecond):
	}
}
