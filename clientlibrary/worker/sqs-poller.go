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
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	nm "github.com/vmware/vmware-go-streamtrigger/clientlibrary/normalizer"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// DeleteMessageBatch accepts at most 10 entries.
const maxDeleteBatchEntries = 10

// SQSPoller receives messages until the cycle is bounded or the queue is empty, hands them over as one
// batch and deletes them once the batch was accepted.
type SQSPoller struct {
	queueURL      string
	triggerConfig *config.TriggerConfiguration
	sqsc          sqsiface.SQSAPI
	mService      metrics.MonitoringService
	normalizer    *nm.Normalizer
	log           logger.Logger
	closeClient   func()
}

func NewSQSPoller(triggerConfig *config.TriggerConfiguration) *SQSPoller {
	log := triggerConfig.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &SQSPoller{
		queueURL:      triggerConfig.QueueURL,
		triggerConfig: triggerConfig,
		mService:      metrics.NoopMonitoringService{},
		normalizer:    nm.NewNormalizer(triggerConfig.SerdeType),
		log:           log.WithFields(logger.Fields{"queue": triggerConfig.QueueURL}),
	}
}

// WithSQS is used to provide SQS service for either custom implementation or unit testing.
func (p *SQSPoller) WithSQS(svc sqsiface.SQSAPI) *SQSPoller {
	p.sqsc = svc
	return p
}

func (p *SQSPoller) Init(mService metrics.MonitoringService) error {
	if mService != nil {
		p.mService = mService
	}
	if p.sqsc == nil {
		p.log.Infof("Creating SQS session")
		s, httpClient, err := newSession(p.triggerConfig, p.triggerConfig.SQSEndpoint)
		if err != nil {
			return err
		}
		p.sqsc = sqs.New(s)
		p.closeClient = httpClient.CloseIdleConnections
	}
	return nil
}

func (p *SQSPoller) Poll(ctx context.Context, processor kcl.IBatchProcessor) (int, error) {
	var deadline time.Time
	if p.triggerConfig.MaxDurationMillis > 0 {
		deadline = time.Now().Add(time.Duration(p.triggerConfig.MaxDurationMillis) * time.Millisecond)
	}
	limit := p.triggerConfig.MaxRecordsPerPoll

	batch := &kcl.Batch{}
	seen := make(map[string]*kcl.ConsumedRecord)
	for {
		if limit > 0 && batch.Count() >= limit {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		maxMessages := p.triggerConfig.MaxNumberOfMessages
		if limit > 0 && limit-batch.Count() < maxMessages {
			maxMessages = limit - batch.Count()
		}

		getRecordsStartTime := time.Now()
		out, err := p.sqsc.ReceiveMessageWithContext(ctx, receiveMessageInput(p.triggerConfig, maxMessages))
		if err != nil {
			p.log.Errorf("Error receiving from %s: %+v", p.queueURL, err)
			if batch.Count() == 0 {
				return 0, err
			}
			break
		}
		p.mService.RecordGetRecordsTime(p.queueURL, float64(time.Since(getRecordsStartTime).Milliseconds()))
		if len(out.Messages) == 0 {
			break
		}

		for _, m := range out.Messages {
			cr, err := p.normalizer.FromSQS(p.queueURL, m)
			if err != nil {
				p.log.Warnf("Dropping message %s: %+v", aws.StringValue(m.MessageId), err)
				p.mService.RecordDropped(p.queueURL)
				continue
			}
			// A message can come back within one cycle when its visibility timeout is short. Only the most
			// recent receipt handle deletes it.
			if id := aws.StringValue(cr.MessageID); id != "" {
				if earlier, ok := seen[id]; ok {
					earlier.Token = cr.Token
					continue
				}
				seen[id] = cr
			}
			batch.Records = append(batch.Records, cr)
		}
	}

	if batch.Count() == 0 {
		return 0, nil
	}

	processRecordsStartTime := time.Now()
	if err := processor.ProcessBatch(batch); err != nil {
		p.log.Errorf("Batch of %d messages was not accepted: %+v", batch.Count(), err)
		return 0, err
	}
	p.mService.RecordProcessRecordsTime(p.queueURL, float64(time.Since(processRecordsStartTime).Milliseconds()))
	p.mService.IncrRecordsProcessed(p.queueURL, batch.Count())
	bytes := int64(0)
	for _, r := range batch.Records {
		bytes += int64(len(r.Data))
	}
	p.mService.IncrBytesProcessed(p.queueURL, bytes)

	p.acknowledge(ctx, batch.Records)
	return batch.Count(), nil
}

// acknowledge deletes the records of an accepted batch, maxDeleteBatchEntries at a time. Entries that
// could not be deleted are delivered again later.
func (p *SQSPoller) acknowledge(ctx context.Context, records []*kcl.ConsumedRecord) {
	for start := 0; start < len(records); start += maxDeleteBatchEntries {
		end := start + maxDeleteBatchEntries
		if end > len(records) {
			end = len(records)
		}

		entries := make([]*sqs.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, r := range records[start:end] {
			entries = append(entries, &sqs.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(start + i)),
				ReceiptHandle: aws.String(r.Token),
			})
		}

		out, err := p.sqsc.DeleteMessageBatchWithContext(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			p.log.Errorf("Failed to delete %d messages: %+v", len(entries), err)
			for range entries {
				p.mService.AcknowledgeFailed(p.queueURL)
			}
			continue
		}
		for _, failed := range out.Failed {
			p.log.Errorf("Failed to delete message entry %s: %s %s", aws.StringValue(failed.Id), aws.StringValue(failed.Code), aws.StringValue(failed.Message))
			p.mService.AcknowledgeFailed(p.queueURL)
		}
	}
}

func (p *SQSPoller) Close() {
	if p.closeClient != nil {
		p.closeClient()
	}
}
