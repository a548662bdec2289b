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

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// PollingTrigger runs a Poller every PollIntervalMillis and hands each non-empty batch to processor.
// It shares the lifecycle of the realtime triggers: Stop lets the running cycle finish, Kill aborts it.
type PollingTrigger struct {
	*lifecycle

	triggerConfig *config.TriggerConfiguration
	poller        Poller
	processor     kcl.IBatchProcessor
	mService      metrics.MonitoringService
}

// NewPollingTrigger constructs a polling trigger around poller.
func NewPollingTrigger(triggerConfig *config.TriggerConfiguration, poller Poller, processor kcl.IBatchProcessor) *PollingTrigger {
	log := triggerConfig.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	mService := triggerConfig.MonitoringService
	if mService == nil {
		mService = metrics.NoopMonitoringService{}
	}

	return &PollingTrigger{
		lifecycle:     newLifecycle(log.WithFields(logger.Fields{"source": string(triggerConfig.Source)})),
		triggerConfig: triggerConfig,
		poller:        poller,
		processor:     processor,
		mService:      mService,
	}
}

// NewKinesisPollingTrigger polls the stream of triggerConfig.
func NewKinesisPollingTrigger(triggerConfig *config.TriggerConfiguration, processor kcl.IBatchProcessor) *PollingTrigger {
	return NewPollingTrigger(triggerConfig, NewKinesisPoller(triggerConfig), processor)
}

// NewSQSPollingTrigger polls the queue of triggerConfig.
func NewSQSPollingTrigger(triggerConfig *config.TriggerConfiguration, processor kcl.IBatchProcessor) *PollingTrigger {
	return NewPollingTrigger(triggerConfig, NewSQSPoller(triggerConfig), processor)
}

// Start validates the configuration, initializes the poller and schedules the polling cycles. The first
// cycle runs right away.
func (t *PollingTrigger) Start() error {
	if t.State() != CREATED {
		return ErrTriggerNotStartable
	}

	if err := t.triggerConfig.ValidatePolling(); err != nil {
		t.log.Errorf("Invalid trigger configuration: %+v", err)
		return err
	}

	if err := t.poller.Init(t.mService); err != nil {
		t.log.Errorf("Failed to initialize poller: %+v", err)
		t.teardown()
		return err
	}

	source := t.triggerConfig.StreamName
	if t.triggerConfig.Source == kcl.SQS {
		source = t.triggerConfig.QueueURL
	}
	if err := t.mService.Init(t.triggerConfig.ApplicationName, source, t.triggerConfig.WorkerID); err != nil {
		t.log.Errorf("Failed to init monitoring service: %+v", err)
	}
	if err := t.mService.Start(); err != nil {
		t.log.Errorf("Failed to start monitoring service: %+v", err)
		t.teardown()
		return err
	}

	if err := t.begin(t.teardown); err != nil {
		t.teardown()
		return err
	}
	t.spawn(t.eventLoop)
	return nil
}

func (t *PollingTrigger) eventLoop() {
	interval := time.Duration(t.triggerConfig.PollIntervalMillis) * time.Millisecond

	for {
		start := time.Now()
		n, err := t.poller.Poll(t.killCtx, t.processor)
		switch {
		case err != nil && t.killCtx.Err() == nil:
			t.log.Errorf("Polling cycle failed after %v: %+v", time.Since(start), err)
		case n > 0:
			t.log.Infof("Polling cycle delivered %d records in %v", n, time.Since(start))
		default:
			t.log.Debugf("Polling cycle found no records")
		}

		select {
		case <-t.stopCtx.Done():
			t.log.Infof("Polling stopped.")
			return
		case <-time.After(interval):
		}
	}
}

func (t *PollingTrigger) teardown() {
	t.poller.Close()
	t.mService.Shutdown()
}
