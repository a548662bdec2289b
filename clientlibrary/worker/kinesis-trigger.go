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
// Package worker runs the Kinesis and SQS triggers: partition discovery, one subscriber per partition,
// the fan-in sink and the lifecycle shared by all of them.
package worker

import (
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"

	chk "github.com/vmware/vmware-go-streamtrigger/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	nm "github.com/vmware/vmware-go-streamtrigger/clientlibrary/normalizer"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// KinesisTrigger reads a Kinesis stream through enhanced fan-out subscriptions and emits every record to
// its sink. Each shard has exactly one subscriber, which resubscribes after the last delivered record
// whenever its subscription ends, until the trigger is stopped.
type KinesisTrigger struct {
	*lifecycle

	streamName string
	regionName string
	workerID   string

	triggerConfig *config.TriggerConfiguration
	sink          *FanInSink
	kc            kinesisiface.KinesisAPI
	checkpointer  chk.Checkpointer
	mService      metrics.MonitoringService
	normalizer    *nm.Normalizer
	consumerARN   string

	closeClient   func()
	extractStream streamExtractor

	partitions *partitionTable
}

// NewKinesisTrigger constructs a trigger for the stream of triggerConfig emitting to sink.
func NewKinesisTrigger(triggerConfig *config.TriggerConfiguration, sink *FanInSink) *KinesisTrigger {
	log := triggerConfig.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	mService := triggerConfig.MonitoringService
	if mService == nil {
		// Replaces nil with noop monitor service (not emitting any metrics).
		mService = metrics.NoopMonitoringService{}
	}

	return &KinesisTrigger{
		lifecycle:     newLifecycle(log.WithFields(logger.Fields{"stream": triggerConfig.StreamName})),
		streamName:    triggerConfig.StreamName,
		regionName:    triggerConfig.RegionName,
		workerID:      triggerConfig.WorkerID,
		triggerConfig: triggerConfig,
		sink:          sink,
		mService:      mService,
		normalizer:    nm.NewNormalizer(triggerConfig.SerdeType),
		extractStream: extractEventStream,
		partitions:    newPartitionTable(triggerConfig.ShardIDs),
	}
}

// WithKinesis is used to provide Kinesis service for either custom implementation or unit testing.
func (t *KinesisTrigger) WithKinesis(svc kinesisiface.KinesisAPI) *KinesisTrigger {
	t.kc = svc
	return t
}

// WithCheckpointer supplies the host's resume tokens. Without one, shards start at the configured
// initial position.
func (t *KinesisTrigger) WithCheckpointer(checker chk.Checkpointer) *KinesisTrigger {
	t.checkpointer = checker
	return t
}

// WithClientCloser replaces how the Kinesis client is released on teardown.
func (t *KinesisTrigger) WithClientCloser(closer func()) *KinesisTrigger {
	t.closeClient = closer
	return t
}

// Sink returns the sink records are emitted to.
func (t *KinesisTrigger) Sink() *FanInSink {
	return t.sink
}

// Partition returns the handle of a discovered shard, or nil.
func (t *KinesisTrigger) Partition(shardID string) *par.PartitionStatus {
	return t.partitions.get(shardID)
}

// PartitionIDs returns the ids of the discovered shards.
func (t *KinesisTrigger) PartitionIDs() []string {
	return t.partitions.ids()
}

// Start validates the configuration, resolves the enhanced fan-out consumer and starts shard discovery.
// A configuration error is returned and leaves the trigger in CREATED.
func (t *KinesisTrigger) Start() error {
	if t.State() != CREATED {
		return ErrTriggerNotStartable
	}

	if err := t.triggerConfig.ValidateRealtime(); err != nil {
		t.log.Errorf("Invalid trigger configuration: %+v", err)
		return err
	}

	if err := t.initialize(); err != nil {
		t.log.Errorf("Failed to initialize trigger: %+v", err)
		t.release()
		return err
	}

	// Start monitoring service
	t.log.Infof("Starting monitoring service.")
	if err := t.mService.Start(); err != nil {
		t.log.Errorf("Failed to start monitoring service: %+v", err)
		t.release()
		return err
	}

	if err := t.begin(t.teardown); err != nil {
		t.release()
		return err
	}

	t.log.Infof("Starting shard discovery.")
	t.spawn(t.eventLoop)
	return nil
}

func (t *KinesisTrigger) initialize() error {
	log := t.log
	log.Infof("Trigger initialization in progress...")

	// Create default Kinesis session
	if t.kc == nil {
		log.Infof("Creating Kinesis session")
		s, httpClient, err := newSession(t.triggerConfig, t.triggerConfig.KinesisEndpoint)
		if err != nil {
			return err
		}
		t.kc = kinesis.New(s)
		if t.closeClient == nil {
			t.closeClient = httpClient.CloseIdleConnections
		}
	} else {
		log.Infof("Use custom Kinesis service.")
	}

	if t.checkpointer != nil {
		log.Infof("Initializing Checkpointer")
		if err := t.checkpointer.Init(); err != nil {
			return err
		}
	}

	if err := t.mService.Init(t.triggerConfig.ApplicationName, t.streamName, t.workerID); err != nil {
		log.Errorf("Failed to init monitoring service: %+v", err)
	}

	consumerARN := t.triggerConfig.EnhancedFanOutConsumerARN
	if consumerARN == "" {
		arn, err := t.fetchConsumerARNWithRetry(t.killCtx)
		if err != nil {
			return err
		}
		consumerARN = arn
	}
	t.consumerARN = consumerARN
	log.Infof("Using enhanced fan-out consumer %s", t.consumerARN)

	log.Infof("Initialization complete.")
	return nil
}

func (t *KinesisTrigger) newShardConsumer(ps *par.PartitionStatus) *FanOutShardConsumer {
	return &FanOutShardConsumer{
		commonShardConsumer: commonShardConsumer{
			partition:     ps,
			kc:            t.kc,
			checkpointer:  t.checkpointer,
			normalizer:    t.normalizer,
			triggerConfig: t.triggerConfig,
			mService:      t.mService,
			log:           t.log.WithFields(logger.Fields{"partition": ps.ID}),
		},
		consumerARN:   t.consumerARN,
		sink:          t.sink,
		extractStream: t.extractStream,
		backoff:       time.Duration(t.triggerConfig.ResubscribeBackoffMillis) * time.Millisecond,
	}
}

// teardown runs once after the last subscriber exited.
func (t *KinesisTrigger) teardown() {
	t.release()
	t.sink.Close()
}

// release closes the Kinesis client and the monitoring service, also when Start failed half way.
func (t *KinesisTrigger) release() {
	if t.closeClient != nil {
		t.log.Infof("Closing Kinesis client.")
		t.closeClient()
	}
	t.mService.Shutdown()
}
