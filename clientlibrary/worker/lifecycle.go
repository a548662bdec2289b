/*
 * Copyright (c) 2021 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/vmware/vmware-go-streamtrigger/logger"
)

const (
	// CREATED is the state of a trigger that has not been started.
	CREATED TriggerState = iota
	// RUNNING triggers discover partitions and subscribe to them.
	RUNNING
	// DRAINING triggers no longer open subscriptions and wait for the open ones to end.
	DRAINING
	// TERMINATED triggers have no session left and have released their clients.
	TERMINATED
)

// ErrTriggerNotStartable is returned by Start on a trigger that was already started or stopped.
var ErrTriggerNotStartable = errors.New("trigger can only be started once")

// TriggerState is the lifecycle state of a trigger.
type TriggerState int

func (s TriggerState) String() string {
	switch s {
	case CREATED:
		return "CREATED"
	case RUNNING:
		return "RUNNING"
	case DRAINING:
		return "DRAINING"
	case TERMINATED:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// lifecycle drives a trigger through CREATED, RUNNING, DRAINING and TERMINATED.
//
// Two cancellation scopes are handed to the goroutines of a trigger. stopCtx is cancelled by Stop: no
// new subscription is opened once it is done, but open ones may finish. killCtx is cancelled by Kill and
// aborts in-flight requests and streams. Every goroutine is tracked by waitGroup; teardown runs once
// after the last one returned.
type lifecycle struct {
	log logger.Logger

	mux   sync.Mutex
	state TriggerState

	stopCtx    context.Context
	stopCancel context.CancelFunc
	killCtx    context.Context
	killCancel context.CancelFunc

	// The running token is held by the trigger itself between begin and Stop, so waitGroup cannot reach
	// zero while new goroutines may still be spawned.
	waitGroup    sync.WaitGroup
	releaseToken sync.Once
	stopOnce     sync.Once

	terminated chan struct{}
}

func newLifecycle(log logger.Logger) *lifecycle {
	stopCtx, stopCancel := context.WithCancel(context.Background())
	killCtx, killCancel := context.WithCancel(context.Background())
	return &lifecycle{
		log:        log,
		state:      CREATED,
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		killCtx:    killCtx,
		killCancel: killCancel,
		terminated: make(chan struct{}),
	}
}

// begin moves a CREATED trigger to RUNNING. teardown runs once every spawned goroutine has returned
// after Stop.
func (l *lifecycle) begin(teardown func()) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	if l.state != CREATED {
		return ErrTriggerNotStartable
	}
	l.state = RUNNING
	l.waitGroup.Add(1)

	go func() {
		l.waitGroup.Wait()
		if teardown != nil {
			teardown()
		}
		l.finish()
	}()
	return nil
}

// spawn runs fn on its own goroutine unless the trigger is no longer running.
func (l *lifecycle) spawn(fn func()) bool {
	l.mux.Lock()
	defer l.mux.Unlock()

	if l.state != RUNNING {
		return false
	}
	l.waitGroup.Add(1)
	go func() {
		defer l.waitGroup.Done()
		fn()
	}()
	return true
}

// active reports whether new subscriptions may still be opened.
func (l *lifecycle) active() bool {
	return l.stopCtx.Err() == nil
}

func (l *lifecycle) finish() {
	l.stopCancel()
	l.killCancel()

	l.mux.Lock()
	l.state = TERMINATED
	l.mux.Unlock()

	close(l.terminated)
	l.log.Infof("Trigger terminated.")
}

// Stop asks the trigger to stop opening subscriptions. It returns immediately; sessions that are open
// finish their current delivery and are not reopened. Calling Stop more than once has no effect.
func (l *lifecycle) Stop() {
	l.stopOnce.Do(func() {
		l.mux.Lock()
		state := l.state
		switch state {
		case CREATED:
			l.state = TERMINATED
		case RUNNING:
			l.state = DRAINING
		}
		l.mux.Unlock()

		l.stopCancel()

		switch state {
		case CREATED:
			l.killCancel()
			close(l.terminated)
			l.log.Infof("Trigger stopped before it was started.")
		case RUNNING:
			l.log.Infof("Trigger stop requested, draining open sessions.")
			l.releaseToken.Do(l.waitGroup.Done)
		}
	})
}

// Kill stops the trigger, aborts every open session and blocks until the trigger has terminated.
// Calling Kill more than once has no effect.
func (l *lifecycle) Kill() {
	l.Stop()
	l.killCancel()
	<-l.terminated
}

// Done returns a channel that is closed when the trigger has terminated.
func (l *lifecycle) Done() <-chan struct{} {
	return l.terminated
}

// State returns the current lifecycle state.
func (l *lifecycle) State() TriggerState {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.state
}
