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
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"

	chk "github.com/vmware/vmware-go-streamtrigger/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	nm "github.com/vmware/vmware-go-streamtrigger/clientlibrary/normalizer"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// commonShardConsumer implements what the realtime subscriber and the polling reader of a shard share.
type commonShardConsumer struct {
	partition     *par.PartitionStatus
	kc            kinesisiface.KinesisAPI
	checkpointer  chk.Checkpointer
	normalizer    *nm.Normalizer
	triggerConfig *config.TriggerConfiguration
	mService      metrics.MonitoringService
	log           logger.Logger

	checkpointFetched bool
}

// getStartingPosition returns where the next session of the shard starts.
// After the resume token if there is one (from an earlier session or the host checkpoint), otherwise the
// configured initial position.
func (sc *commonShardConsumer) getStartingPosition() (*kinesis.StartingPosition, error) {
	if !sc.checkpointFetched && sc.checkpointer != nil && sc.partition.GetResumeToken() == "" {
		err := sc.checkpointer.FetchCheckpoint(sc.partition)
		if err != nil && !errors.Is(err, chk.ErrSequenceIDNotFound) {
			return nil, err
		}
	}
	sc.checkpointFetched = true

	if token := sc.partition.GetResumeToken(); token != "" {
		sc.log.Debugf("Start shard: %v after sequence number: %v", sc.partition.ID, token)
		return &kinesis.StartingPosition{
			Type:           aws.String(kinesis.ShardIteratorTypeAfterSequenceNumber),
			SequenceNumber: aws.String(token),
		}, nil
	}

	position := sc.triggerConfig.InitialPositionInStream
	shardIteratorType := config.InitalPositionInStreamToShardIteratorType(position)
	sc.log.Debugf("No resume token for shard: %v, starting with: %v", sc.partition.ID, aws.StringValue(shardIteratorType))

	switch position {
	case config.AT_TIMESTAMP:
		return &kinesis.StartingPosition{
			Type:      shardIteratorType,
			Timestamp: sc.triggerConfig.InitialPositionInStreamExtended.Timestamp,
		}, nil
	case config.AT_SEQUENCE_NUMBER:
		return &kinesis.StartingPosition{
			Type:           shardIteratorType,
			SequenceNumber: aws.String(sc.triggerConfig.InitialPositionInStreamExtended.SequenceNumber),
		}, nil
	}

	return &kinesis.StartingPosition{
		Type: shardIteratorType,
	}, nil
}

// processRecords normalizes the records of one event and emits them in order. The resume token moves to a
// record's sequence number once all of its user records were accepted, so a failed emit makes the next
// session start again at that record. Malformed records are dropped.
func (sc *commonShardConsumer) processRecords(ctx context.Context, sink *FanInSink, getRecordsStartTime time.Time, records []*kinesis.Record, millisBehindLatest *int64) error {
	id := sc.partition.ID

	getRecordsTime := time.Since(getRecordsStartTime).Milliseconds()
	sc.mService.RecordGetRecordsTime(id, float64(getRecordsTime))
	if millisBehindLatest != nil {
		sc.mService.MillisBehindLatest(id, float64(*millisBehindLatest))
	}

	if len(records) == 0 {
		return nil
	}
	sc.log.Debugf("Received %d records, MillisBehindLatest: %v", len(records), aws.Int64Value(millisBehindLatest))

	processRecordsStartTime := time.Now()
	defer func() {
		sc.mService.RecordProcessRecordsTime(id, float64(time.Since(processRecordsStartTime).Milliseconds()))
	}()

	for _, r := range records {
		consumed, err := sc.normalizer.FromKinesis(id, r, millisBehindLatest)
		if err != nil {
			sc.dropped(r, err)
			if len(consumed) == 0 {
				continue
			}
		}

		for _, cr := range consumed {
			if err := sink.Emit(ctx, cr); err != nil {
				return err
			}
			sc.mService.IncrRecordsProcessed(id, 1)
			sc.mService.IncrBytesProcessed(id, int64(len(cr.Data)))
		}
		sc.partition.SetResumeToken(aws.StringValue(r.SequenceNumber))
	}
	return nil
}

// dropped reports the user records of r that could not be normalized.
func (sc *commonShardConsumer) dropped(r *kinesis.Record, err error) {
	id := sc.partition.ID
	sc.log.Warnf("Dropping record %s of shard %s: %+v", aws.StringValue(r.SequenceNumber), id, err)
	for i := 0; i < nm.DroppedCount(err); i++ {
		sc.mService.RecordDropped(id)
	}
}
