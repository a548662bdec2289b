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
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"

	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/utils"
)

type (
	// eventStream is the part of *kinesis.SubscribeToShardEventStream a subscriber reads from.
	eventStream interface {
		Events() <-chan kinesis.SubscribeToShardEventStreamEvent
		Close() error
		Err() error
	}

	// streamExtractor returns the event stream of a SubscribeToShard response.
	streamExtractor func(out *kinesis.SubscribeToShardOutput) eventStream
)

func extractEventStream(out *kinesis.SubscribeToShardOutput) eventStream {
	if out == nil || out.EventStream == nil {
		return nil
	}
	return out.EventStream
}

// FanOutShardConsumer owns the enhanced fan-out subscription of one shard.
// For more info see: https://docs.aws.amazon.com/streams/latest/dev/enhanced-consumers.html
type FanOutShardConsumer struct {
	commonShardConsumer
	consumerARN   string
	sink          *FanInSink
	extractStream streamExtractor
	backoff       time.Duration
}

// run keeps one subscription open on the shard until the trigger stops or the shard ends.
// Sessions are strictly sequential, so at most one subscription per shard exists at any time.
func (sc *FanOutShardConsumer) run(stopCtx, killCtx context.Context) {
	id := sc.partition.ID
	sc.log.Infof("Start shard consumer for shard: %v", id)

	for stopCtx.Err() == nil {
		ended, err := sc.subscribe(stopCtx, killCtx)
		if ended {
			sc.partition.SetState(par.ENDED)
			sc.log.Infof("Shard %s closed", id)
			return
		}

		switch {
		case killCtx.Err() != nil:
			sc.log.Debugf("Subscription on shard %s aborted", id)
		case err != nil:
			sc.log.Errorf("Subscription on shard %s failed, resubscribing in %v: %+v", id, sc.backoff, err)
		default:
			sc.log.Debugf("Subscription on shard %s completed, resubscribing in %v", id, sc.backoff)
		}

		select {
		case <-stopCtx.Done():
		case <-time.After(sc.backoff):
			if stopCtx.Err() == nil {
				sc.mService.Resubscribed(id)
			}
		}
	}

	sc.partition.SetState(par.IDLE)
	sc.log.Infof("Shard consumer for shard %v stopped", id)
}

// subscribe runs a single subscription session. It reports ended when the shard was closed upstream.
func (sc *FanOutShardConsumer) subscribe(stopCtx, killCtx context.Context) (ended bool, err error) {
	id := sc.partition.ID

	startPosition, err := sc.getStartingPosition()
	if err != nil {
		return false, err
	}

	sessions := sc.partition.OpenSession()
	sc.mService.SubscriptionStarted(id)
	defer func() {
		sc.partition.CloseSession(err)
		sc.mService.SubscriptionEnded(id)
	}()
	sc.log.Debugf("Opening session %d on shard %s at %s", sessions, id, startPosition.String())

	out, err := sc.kc.SubscribeToShardWithContext(killCtx, &kinesis.SubscribeToShardInput{
		ConsumerARN:      &sc.consumerARN,
		ShardId:          &sc.partition.ID,
		StartingPosition: startPosition,
	})
	if err != nil {
		if utils.IsCanceled(err) {
			return false, killCtx.Err()
		}
		return false, err
	}

	stream := sc.extractStream(out)
	if stream == nil {
		return false, nil
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			sc.log.Errorf("Unable to close event stream for %s: %v", id, cerr)
		}
	}()

	for {
		getRecordsStartTime := time.Now()
		select {
		case <-killCtx.Done():
			return false, killCtx.Err()
		case event, ok := <-stream.Events():
			if !ok {
				return false, stream.Err()
			}
			subEvent, ok := event.(*kinesis.SubscribeToShardEvent)
			if !ok {
				sc.log.Errorf("Received unexpected event type: %T", event)
				continue
			}

			if err := sc.processRecords(killCtx, sc.sink, getRecordsStartTime, subEvent.Records, subEvent.MillisBehindLatest); err != nil {
				return false, err
			}

			// The shard has been closed, so no new records can be read from it
			if subEvent.ContinuationSequenceNumber == nil {
				return true, nil
			}

			// Stopped: the current delivery is done and the session is not continued.
			if stopCtx.Err() != nil {
				return false, nil
			}
		}
	}
}
