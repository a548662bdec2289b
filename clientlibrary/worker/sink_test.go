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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
)

func TestPushSinkSerializesProcessorCalls(t *testing.T) {
	var inFlight, maxInFlight int
	var mux sync.Mutex
	processor := kcl.RecordProcessorFunc(func(r *kcl.ConsumedRecord) error {
		mux.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mux.Unlock()

		time.Sleep(time.Millisecond)

		mux.Lock()
		inFlight--
		mux.Unlock()
		return nil
	})

	sink := NewPushSink(processor)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				assert.Nil(t, sink.Emit(context.Background(), &kcl.ConsumedRecord{Token: "1"}))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight)
	assert.Nil(t, sink.Records())
}

func TestPushSinkReturnsProcessorError(t *testing.T) {
	failure := errors.New("rejected")
	sink := NewPushSink(kcl.RecordProcessorFunc(func(r *kcl.ConsumedRecord) error { return failure }))

	assert.Equal(t, failure, sink.Emit(context.Background(), &kcl.ConsumedRecord{}))
}

func TestPullSink(t *testing.T) {
	sink := NewPullSink(1)
	r := &kcl.ConsumedRecord{Token: "1"}

	assert.Nil(t, sink.Emit(context.Background(), r))
	assert.Equal(t, r, <-sink.Records())

	// a full channel blocks until the context is done
	assert.Nil(t, sink.Emit(context.Background(), r))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Equal(t, context.DeadlineExceeded, sink.Emit(ctx, r))
}

func TestSinkClose(t *testing.T) {
	sink := NewPullSink(1)
	sink.Close()
	sink.Close()

	_, open := <-sink.Records()
	assert.False(t, open)
	assert.Equal(t, ErrSinkClosed, sink.Emit(context.Background(), &kcl.ConsumedRecord{}))

	push := NewPushSink(kcl.RecordProcessorFunc(func(r *kcl.ConsumedRecord) error {
		t.Error("closed sink must not call the processor")
		return nil
	}))
	push.Close()
	assert.Equal(t, ErrSinkClosed, push.Emit(context.Background(), &kcl.ConsumedRecord{}))
}

func TestSinkEmitWithCancelledContext(t *testing.T) {
	called := false
	sink := NewPushSink(kcl.RecordProcessorFunc(func(r *kcl.ConsumedRecord) error {
		called = true
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, sink.Emit(ctx, &kcl.ConsumedRecord{}))
	assert.False(t, called)
}
