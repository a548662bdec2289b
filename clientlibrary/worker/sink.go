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

	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
)

// ErrSinkClosed is returned by Emit once the trigger owning the sink has terminated.
var ErrSinkClosed = errors.New("sink is closed")

// FanInSink merges the records of every partition subscriber of a trigger into a single stream.
//
// A push sink hands each record to an IRecordProcessor. Calls are serialized so the processor sees one
// record at a time. A pull sink buffers records on a channel the host reads from.
// Records of one partition keep their order in both cases; there is no ordering across partitions.
type FanInSink struct {
	processor kcl.IRecordProcessor
	records   chan *kcl.ConsumedRecord

	// processMux serializes the processor calls.
	processMux sync.Mutex
	// closeMux guards closed and the records channel against a concurrent Close.
	closeMux sync.RWMutex
	closed   bool
}

// NewPushSink returns a sink delivering every record to processor.
func NewPushSink(processor kcl.IRecordProcessor) *FanInSink {
	return &FanInSink{processor: processor}
}

// NewPullSink returns a sink whose records are read from Records(). buffer is the channel capacity.
func NewPullSink(buffer int) *FanInSink {
	if buffer < 0 {
		buffer = 0
	}
	return &FanInSink{records: make(chan *kcl.ConsumedRecord, buffer)}
}

// Records returns the channel of a pull sink. It is closed once the trigger has terminated.
// It returns nil for a push sink.
func (s *FanInSink) Records() <-chan *kcl.ConsumedRecord {
	return s.records
}

// Emit hands a record downstream. It blocks until the record was accepted, the processor failed, or ctx
// is done. A nil error means the record's delivery token may be acknowledged.
func (s *FanInSink) Emit(ctx context.Context, record *kcl.ConsumedRecord) error {
	s.closeMux.RLock()
	defer s.closeMux.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.processor != nil {
		s.processMux.Lock()
		defer s.processMux.Unlock()
		return s.processor.ProcessRecord(record)
	}

	select {
	case s.records <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further records and closes the pull channel. It is safe to call more than once.
func (s *FanInSink) Close() {
	s.closeMux.Lock()
	defer s.closeMux.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.records != nil {
		close(s.records)
	}
}
