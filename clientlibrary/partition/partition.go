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
// Package partition holds the per-partition bookkeeping shared by discovery and the subscribers.
package partition

import (
	"sync"
)

const (
	// IDLE means no subscription session is open for the partition.
	IDLE SessionState = iota
	// SUBSCRIBED means a session is open and delivering records.
	SUBSCRIBED
	// BACKING_OFF means the last session ended and the subscriber waits before resubscribing.
	BACKING_OFF
	// ENDED means the partition was closed upstream (SHARD_END) or the subscriber exited for good.
	ENDED
)

// SessionState is the state of the subscription session of one partition.
type SessionState int

func (s SessionState) String() string {
	switch s {
	case IDLE:
		return "IDLE"
	case SUBSCRIBED:
		return "SUBSCRIBED"
	case BACKING_OFF:
		return "BACKING_OFF"
	case ENDED:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// PartitionStatus is the handle of one discovered partition: a Kinesis shard or the SQS queue itself.
// Only the subscriber owning the partition writes the resume token and session fields.
type PartitionStatus struct {
	ID            string
	ParentShardID string
	// Shard range. Open shards have no ending sequence number.
	StartingSequenceNumber string
	EndingSequenceNumber   string

	Mux *sync.RWMutex

	// ResumeToken is the delivery token of the last record successfully emitted.
	ResumeToken string
	State       SessionState
	LastError   error
	Sessions    int
}

// NewPartitionStatus returns an idle partition handle with no resume token.
func NewPartitionStatus(id string) *PartitionStatus {
	return &PartitionStatus{
		ID:  id,
		Mux: &sync.RWMutex{},
	}
}

func (ps *PartitionStatus) GetResumeToken() string {
	ps.Mux.RLock()
	defer ps.Mux.RUnlock()
	return ps.ResumeToken
}

func (ps *PartitionStatus) SetResumeToken(token string) {
	ps.Mux.Lock()
	defer ps.Mux.Unlock()
	ps.ResumeToken = token
}

func (ps *PartitionStatus) GetState() SessionState {
	ps.Mux.RLock()
	defer ps.Mux.RUnlock()
	return ps.State
}

func (ps *PartitionStatus) SetState(state SessionState) {
	ps.Mux.Lock()
	defer ps.Mux.Unlock()
	ps.State = state
}

// OpenSession marks a new subscription session and returns how many sessions have been opened so far.
func (ps *PartitionStatus) OpenSession() int {
	ps.Mux.Lock()
	defer ps.Mux.Unlock()
	ps.State = SUBSCRIBED
	ps.LastError = nil
	ps.Sessions++
	return ps.Sessions
}

// CloseSession records how the current session ended. err is nil for a graceful completion.
func (ps *PartitionStatus) CloseSession(err error) {
	ps.Mux.Lock()
	defer ps.Mux.Unlock()
	ps.LastError = err
	if ps.State != ENDED {
		ps.State = BACKING_OFF
	}
}

func (ps *PartitionStatus) GetLastError() error {
	ps.Mux.RLock()
	defer ps.Mux.RUnlock()
	return ps.LastError
}

func (ps *PartitionStatus) GetSessions() int {
	ps.Mux.RLock()
	defer ps.Mux.RUnlock()
	return ps.Sessions
}
