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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	nm "github.com/vmware/vmware-go-streamtrigger/clientlibrary/normalizer"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// SQSQueueConsumer is the subscriber of a queue. Each ReceiveMessage call is one session.
type SQSQueueConsumer struct {
	partition     *par.PartitionStatus
	sqsc          sqsiface.SQSAPI
	normalizer    *nm.Normalizer
	sink          *FanInSink
	triggerConfig *config.TriggerConfiguration
	mService      metrics.MonitoringService
	log           logger.Logger
	backoff       time.Duration
}

func (qc *SQSQueueConsumer) run(stopCtx, killCtx context.Context) {
	id := qc.partition.ID
	qc.log.Infof("Start queue consumer for %v", id)

	for stopCtx.Err() == nil {
		received, err := qc.receive(killCtx)
		if err == nil {
			// Short polling on an empty queue would spin.
			if received == 0 && qc.triggerConfig.WaitTimeSeconds == 0 {
				select {
				case <-stopCtx.Done():
				case <-time.After(qc.backoff):
				}
			}
			continue
		}
		if killCtx.Err() != nil {
			break
		}

		qc.log.Errorf("Receiving from %s failed, retrying in %v: %+v", id, qc.backoff, err)
		select {
		case <-stopCtx.Done():
		case <-time.After(qc.backoff):
			if stopCtx.Err() == nil {
				qc.mService.Resubscribed(id)
			}
		}
	}

	qc.partition.SetState(par.IDLE)
	qc.log.Infof("Queue consumer for %v stopped", id)
}

// receive runs one long poll and emits the messages it returned. A message that the sink did not accept
// is not deleted and becomes visible again after its visibility timeout.
func (qc *SQSQueueConsumer) receive(ctx context.Context) (received int, err error) {
	id := qc.partition.ID

	qc.partition.OpenSession()
	qc.mService.SubscriptionStarted(id)
	defer func() {
		qc.partition.CloseSession(err)
		qc.mService.SubscriptionEnded(id)
	}()

	getRecordsStartTime := time.Now()
	out, err := qc.sqsc.ReceiveMessageWithContext(ctx, receiveMessageInput(qc.triggerConfig, qc.triggerConfig.MaxNumberOfMessages))
	if err != nil {
		return 0, err
	}
	qc.mService.RecordGetRecordsTime(id, float64(time.Since(getRecordsStartTime).Milliseconds()))

	received = len(out.Messages)
	if received == 0 {
		return 0, nil
	}
	qc.log.Debugf("Received %d messages", len(out.Messages))

	processRecordsStartTime := time.Now()
	defer func() {
		qc.mService.RecordProcessRecordsTime(id, float64(time.Since(processRecordsStartTime).Milliseconds()))
	}()

	for _, m := range out.Messages {
		cr, err := qc.normalizer.FromSQS(id, m)
		if err != nil {
			// Left in the queue: it is redelivered or moved to the dead letter queue by the redrive policy.
			qc.log.Warnf("Dropping message %s: %+v", aws.StringValue(m.MessageId), err)
			qc.mService.RecordDropped(id)
			continue
		}

		if err := qc.sink.Emit(ctx, cr); err != nil {
			return received, err
		}
		qc.mService.IncrRecordsProcessed(id, 1)
		qc.mService.IncrBytesProcessed(id, int64(len(cr.Data)))
		qc.partition.SetResumeToken(cr.Token)

		qc.acknowledge(ctx, cr)
	}
	return received, nil
}

// acknowledge deletes a delivered message. A failure only means the message is delivered again.
func (qc *SQSQueueConsumer) acknowledge(ctx context.Context, cr *kcl.ConsumedRecord) {
	_, err := qc.sqsc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(qc.partition.ID),
		ReceiptHandle: aws.String(cr.Token),
	})
	if err != nil {
		qc.log.Errorf("Failed to delete message %s: %+v", aws.StringValue(cr.MessageID), err)
		qc.mService.AcknowledgeFailed(qc.partition.ID)
	}
}

func receiveMessageInput(triggerConfig *config.TriggerConfiguration, maxMessages int) *sqs.ReceiveMessageInput {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(triggerConfig.QueueURL),
		MaxNumberOfMessages:   aws.Int64(int64(maxMessages)),
		WaitTimeSeconds:       aws.Int64(int64(triggerConfig.WaitTimeSeconds)),
		AttributeNames:        []*string{aws.String(sqs.QueueAttributeNameAll)},
		MessageAttributeNames: []*string{aws.String(sqs.QueueAttributeNameAll)},
	}
	if triggerConfig.VisibilityTimeoutSeconds > 0 {
		input.VisibilityTimeout = aws.Int64(int64(triggerConfig.VisibilityTimeoutSeconds))
	}
	return input
}
