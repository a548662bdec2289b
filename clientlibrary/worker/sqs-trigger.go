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
	"time"

	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	nm "github.com/vmware/vmware-go-streamtrigger/clientlibrary/normalizer"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// SQSTrigger long polls an SQS queue and emits every message to its sink. The queue is the trigger's
// single partition. A message is deleted only after the sink accepted it.
type SQSTrigger struct {
	*lifecycle

	queueURL string
	workerID string

	triggerConfig *config.TriggerConfiguration
	sink          *FanInSink
	sqsc          sqsiface.SQSAPI
	mService      metrics.MonitoringService
	normalizer    *nm.Normalizer

	closeClient func()
	partition   *par.PartitionStatus
}

// NewSQSTrigger constructs a trigger for the queue of triggerConfig emitting to sink.
func NewSQSTrigger(triggerConfig *config.TriggerConfiguration, sink *FanInSink) *SQSTrigger {
	log := triggerConfig.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	mService := triggerConfig.MonitoringService
	if mService == nil {
		mService = metrics.NoopMonitoringService{}
	}

	return &SQSTrigger{
		lifecycle:     newLifecycle(log.WithFields(logger.Fields{"queue": triggerConfig.QueueURL})),
		queueURL:      triggerConfig.QueueURL,
		workerID:      triggerConfig.WorkerID,
		triggerConfig: triggerConfig,
		sink:          sink,
		mService:      mService,
		normalizer:    nm.NewNormalizer(triggerConfig.SerdeType),
		partition:     par.NewPartitionStatus(triggerConfig.QueueURL),
	}
}

// WithSQS is used to provide SQS service for either custom implementation or unit testing.
func (t *SQSTrigger) WithSQS(svc sqsiface.SQSAPI) *SQSTrigger {
	t.sqsc = svc
	return t
}

// WithClientCloser replaces how the SQS client is released on teardown.
func (t *SQSTrigger) WithClientCloser(closer func()) *SQSTrigger {
	t.closeClient = closer
	return t
}

// Sink returns the sink messages are emitted to.
func (t *SQSTrigger) Sink() *FanInSink {
	return t.sink
}

// Partition returns the handle of the queue.
func (t *SQSTrigger) Partition() *par.PartitionStatus {
	return t.partition
}

// Start validates the configuration and starts receiving. A configuration error is returned and leaves
// the trigger in CREATED.
func (t *SQSTrigger) Start() error {
	if t.State() != CREATED {
		return ErrTriggerNotStartable
	}

	if err := t.triggerConfig.ValidateRealtime(); err != nil {
		t.log.Errorf("Invalid trigger configuration: %+v", err)
		return err
	}

	if t.sqsc == nil {
		t.log.Infof("Creating SQS session")
		s, httpClient, err := newSession(t.triggerConfig, t.triggerConfig.SQSEndpoint)
		if err != nil {
			t.log.Errorf("Failed in getting SQS session: %+v", err)
			return err
		}
		t.sqsc = sqs.New(s)
		if t.closeClient == nil {
			t.closeClient = httpClient.CloseIdleConnections
		}
	} else {
		t.log.Infof("Use custom SQS service.")
	}

	if err := t.mService.Init(t.triggerConfig.ApplicationName, t.queueURL, t.workerID); err != nil {
		t.log.Errorf("Failed to init monitoring service: %+v", err)
	}
	if err := t.mService.Start(); err != nil {
		t.log.Errorf("Failed to start monitoring service: %+v", err)
		t.release()
		return err
	}

	if err := t.begin(t.teardown); err != nil {
		t.release()
		return err
	}

	qc := &SQSQueueConsumer{
		partition:     t.partition,
		sqsc:          t.sqsc,
		normalizer:    t.normalizer,
		sink:          t.sink,
		triggerConfig: t.triggerConfig,
		mService:      t.mService,
		log:           t.log.WithFields(logger.Fields{"partition": t.queueURL}),
		backoff:       time.Duration(t.triggerConfig.ResubscribeBackoffMillis) * time.Millisecond,
	}
	t.spawn(func() { qc.run(t.stopCtx, t.killCtx) })
	return nil
}

func (t *SQSTrigger) teardown() {
	t.release()
	t.sink.Close()
}

// release closes the SQS client and the monitoring service, also when Start failed half way.
func (t *SQSTrigger) release() {
	if t.closeClient != nil {
		t.log.Infof("Closing SQS client.")
		t.closeClient()
	}
	t.mService.Shutdown()
}
