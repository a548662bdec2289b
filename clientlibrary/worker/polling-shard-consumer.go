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
	"math"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"

	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/utils"
)

const maxThrottleRetries = 10

// PollingShardConsumer reads one shard with GetRecords on behalf of a KinesisPoller.
type PollingShardConsumer struct {
	commonShardConsumer
	streamName string

	// iterator is where the next cycle starts reading. It is only moved by commit, so records past the
	// tip of an empty cycle are not skipped and a rejected batch is read again.
	iterator *string
}

// shardRead is what one polling cycle read from a shard.
type shardRead struct {
	records []*kcl.ConsumedRecord
	// lastToken is the sequence number of the last record read, "" if nothing was read.
	lastToken string
	// nextIterator continues right after the records of the read.
	nextIterator *string
	// ended is set when the shard was closed and fully read.
	ended bool
}

// commit moves the shard past read once its records were accepted.
func (sc *PollingShardConsumer) commit(read *shardRead) {
	if read.lastToken != "" {
		sc.partition.SetResumeToken(read.lastToken)
	}
	if read.ended {
		sc.partition.SetState(par.ENDED)
		sc.iterator = nil
		return
	}
	if read.nextIterator != nil {
		sc.iterator = read.nextIterator
	}
}

// getShardIterator returns a new iterator after the given sequence number, or at the starting position
// of the shard when after is empty.
func (sc *PollingShardConsumer) getShardIterator(ctx context.Context, after string) (*string, error) {
	startPosition := &kinesis.StartingPosition{
		Type:           aws.String(kinesis.ShardIteratorTypeAfterSequenceNumber),
		SequenceNumber: aws.String(after),
	}
	if after == "" {
		var err error
		if startPosition, err = sc.getStartingPosition(); err != nil {
			return nil, err
		}
	}
	shardIterArgs := &kinesis.GetShardIteratorInput{
		ShardId:                &sc.partition.ID,
		ShardIteratorType:      startPosition.Type,
		StartingSequenceNumber: startPosition.SequenceNumber,
		Timestamp:              startPosition.Timestamp,
		StreamName:             &sc.streamName,
	}
	iterResp, err := sc.kc.GetShardIteratorWithContext(ctx, shardIterArgs)
	if err != nil {
		return nil, err
	}
	return iterResp.ShardIterator, nil
}

// read pulls records from the shard until limit records were read (0 means no limit), the deadline
// passed, the shard is caught up or the shard ended. The resume token and the held iterator are left
// untouched; the poller commits them once the batch was accepted.
func (sc *PollingShardConsumer) read(ctx context.Context, limit int, deadline time.Time) (*shardRead, error) {
	log := sc.log
	id := sc.partition.ID
	result := &shardRead{}

	shardIterator := sc.iterator
	if shardIterator == nil {
		var err error
		if shardIterator, err = sc.getShardIterator(ctx, ""); err != nil {
			log.Errorf("Unable to get shard iterator for %s: %v", id, err)
			return result, err
		}
	}

	result.nextIterator = shardIterator

	retriedErrors := 0
	refreshed := false
	for {
		if limit > 0 && len(result.records) >= limit {
			return result, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return result, nil
		}

		maxRecords := sc.triggerConfig.MaxRecords
		if limit > 0 && limit-len(result.records) < maxRecords {
			maxRecords = limit - len(result.records)
		}

		getRecordsStartTime := time.Now()
		log.Debugf("Trying to read %d record from iterator: %v", maxRecords, aws.StringValue(shardIterator))
		getRecordsArgs := &kinesis.GetRecordsInput{
			Limit:         aws.Int64(int64(maxRecords)),
			ShardIterator: shardIterator,
		}
		// Get records from stream and retry as needed
		getResp, err := sc.kc.GetRecordsWithContext(ctx, getRecordsArgs)
		if err != nil {
			code := utils.AWSErrCode(err)
			if (code == kinesis.ErrCodeProvisionedThroughputExceededException || code == kinesis.ErrCodeKMSThrottlingException) && retriedErrors < maxThrottleRetries {
				log.Errorf("Error getting records from shard %v: %+v", id, err)
				retriedErrors++
				// exponential backoff
				// https://docs.aws.amazon.com/amazondynamodb/latest/developerguide/Programming.Errors.html#Programming.Errors.RetryAndBackoff
				if !sleep(ctx, time.Duration(math.Exp2(float64(retriedErrors))*100)*time.Millisecond) {
					return result, ctx.Err()
				}
				continue
			}
			if code == kinesis.ErrCodeExpiredIteratorException && !refreshed {
				// Held across too long a poll interval: reopen after the last record this cycle or the
				// last accepted one.
				log.Warnf("Shard iterator of %s expired, getting a new one", id)
				refreshed = true
				after := result.lastToken
				if after == "" {
					after = sc.partition.GetResumeToken()
				}
				if shardIterator, err = sc.getShardIterator(ctx, after); err != nil {
					log.Errorf("Unable to get shard iterator for %s: %v", id, err)
					return result, err
				}
				result.nextIterator = shardIterator
				continue
			}
			log.Errorf("Error getting records from Kinesis that cannot be retried: %+v Request: %s", err, getRecordsArgs)
			return result, err
		}
		// reset the retry count after success
		retriedErrors = 0
		refreshed = false
		sc.mService.RecordGetRecordsTime(id, float64(time.Since(getRecordsStartTime).Milliseconds()))
		if getResp.MillisBehindLatest != nil {
			sc.mService.MillisBehindLatest(id, float64(*getResp.MillisBehindLatest))
		}

		for _, r := range getResp.Records {
			consumed, err := sc.normalizer.FromKinesis(id, r, getResp.MillisBehindLatest)
			if err != nil {
				sc.dropped(r, err)
				if len(consumed) == 0 {
					continue
				}
			}
			result.records = append(result.records, consumed...)
			result.lastToken = aws.StringValue(r.SequenceNumber)
		}

		// The shard has been closed, so no new records can be read from it
		if getResp.NextShardIterator == nil {
			log.Infof("Shard %s closed", id)
			result.ended = true
			return result, nil
		}
		shardIterator = getResp.NextShardIterator
		result.nextIterator = shardIterator

		if len(getResp.Records) == 0 {
			// Caught up with the tip of the shard: the cycle is done with it.
			if aws.Int64Value(getResp.MillisBehindLatest) == 0 {
				return result, nil
			}
			// Idle between each read when nothing came back but the shard is still behind.
			if !sleep(ctx, time.Duration(sc.triggerConfig.IdleTimeBetweenReadsInMillis)*time.Millisecond) {
				return result, ctx.Err()
			}
		}
	}
}

// sleep waits d and reports false if ctx was done first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
