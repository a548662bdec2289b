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
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"

	chk "github.com/vmware/vmware-go-streamtrigger/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	nm "github.com/vmware/vmware-go-streamtrigger/clientlibrary/normalizer"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// Poller collects one batch per call from its source and hands it to the batch processor.
type Poller interface {
	// Init creates the clients of the poller. It is called once by PollingTrigger.Start.
	Init(mService metrics.MonitoringService) error
	// Poll runs one cycle and returns the number of records the processor accepted.
	Poll(ctx context.Context, processor kcl.IBatchProcessor) (int, error)
	// Close releases the clients.
	Close()
}

// KinesisPoller reads every shard of a stream with GetRecords. Resume tokens and shard iterators are kept
// in memory and only move forward once a batch was accepted, so a rejected batch is read again on the
// next cycle. Use config.NewKinesisPollingConfig to start at TRIM_HORIZON.
type KinesisPoller struct {
	streamName    string
	triggerConfig *config.TriggerConfiguration
	kc            kinesisiface.KinesisAPI
	checkpointer  chk.Checkpointer
	mService      metrics.MonitoringService
	normalizer    *nm.Normalizer
	log           logger.Logger
	closeClient   func()

	partitions *partitionTable
	consumers  map[string]*PollingShardConsumer
}

func NewKinesisPoller(triggerConfig *config.TriggerConfiguration) *KinesisPoller {
	log := triggerConfig.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &KinesisPoller{
		streamName:    triggerConfig.StreamName,
		triggerConfig: triggerConfig,
		mService:      metrics.NoopMonitoringService{},
		normalizer:    nm.NewNormalizer(triggerConfig.SerdeType),
		log:           log.WithFields(logger.Fields{"stream": triggerConfig.StreamName}),
		partitions:    newPartitionTable(triggerConfig.ShardIDs),
		consumers:     make(map[string]*PollingShardConsumer),
	}
}

// WithKinesis is used to provide Kinesis service for either custom implementation or unit testing.
func (p *KinesisPoller) WithKinesis(svc kinesisiface.KinesisAPI) *KinesisPoller {
	p.kc = svc
	return p
}

// WithCheckpointer supplies the host's resume tokens, read once per shard.
func (p *KinesisPoller) WithCheckpointer(checker chk.Checkpointer) *KinesisPoller {
	p.checkpointer = checker
	return p
}

// Partition returns the handle of a discovered shard, or nil.
func (p *KinesisPoller) Partition(shardID string) *par.PartitionStatus {
	return p.partitions.get(shardID)
}

func (p *KinesisPoller) Init(mService metrics.MonitoringService) error {
	if mService != nil {
		p.mService = mService
	}

	if p.kc == nil {
		p.log.Infof("Creating Kinesis session")
		s, httpClient, err := newSession(p.triggerConfig, p.triggerConfig.KinesisEndpoint)
		if err != nil {
			return err
		}
		p.kc = kinesis.New(s)
		p.closeClient = httpClient.CloseIdleConnections
	}

	if p.checkpointer != nil {
		return p.checkpointer.Init()
	}
	return nil
}

// Poll reads the shards one after the other until the cycle is bounded by MaxRecordsPerPoll or
// MaxDurationMillis. An empty cycle does not call the processor.
func (p *KinesisPoller) Poll(ctx context.Context, processor kcl.IBatchProcessor) (int, error) {
	var deadline time.Time
	if p.triggerConfig.MaxDurationMillis > 0 {
		deadline = time.Now().Add(time.Duration(p.triggerConfig.MaxDurationMillis) * time.Millisecond)
	}
	limit := p.triggerConfig.MaxRecordsPerPoll

	shards, err := listShards(ctx, p.kc, p.streamName)
	if err != nil {
		p.log.Errorf("Error listing shards: %+v", err)
		return 0, err
	}
	for _, ps := range p.partitions.add(shards) {
		p.log.Infof("Found new shard with id %s", ps.ID)
	}

	batch := &kcl.Batch{}
	reads := make(map[string]*shardRead)
	for _, id := range p.partitions.ids() {
		if limit > 0 && batch.Count() >= limit {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		ps := p.partitions.get(id)
		if ps.GetState() == par.ENDED {
			continue
		}

		remaining := 0
		if limit > 0 {
			remaining = limit - batch.Count()
		}
		read, err := p.consumer(ps).read(ctx, remaining, deadline)
		if err != nil {
			p.log.Errorf("Error reading shard %s: %+v", id, err)
		}
		batch.Records = append(batch.Records, read.records...)
		reads[id] = read
	}

	if batch.Count() > 0 {
		processRecordsStartTime := time.Now()
		if err := processor.ProcessBatch(batch); err != nil {
			p.log.Errorf("Batch of %d records was not accepted: %+v", batch.Count(), err)
			return 0, err
		}
		processed := float64(time.Since(processRecordsStartTime).Milliseconds())
		for id := range reads {
			p.mService.RecordProcessRecordsTime(id, processed)
		}
	}

	for id, read := range reads {
		p.consumers[id].commit(read)
		if n := len(read.records); n > 0 {
			p.mService.IncrRecordsProcessed(id, n)
			bytes := int64(0)
			for _, r := range read.records {
				bytes += int64(len(r.Data))
			}
			p.mService.IncrBytesProcessed(id, bytes)
		}
	}
	return batch.Count(), nil
}

func (p *KinesisPoller) Close() {
	if p.closeClient != nil {
		p.closeClient()
	}
}

func (p *KinesisPoller) consumer(ps *par.PartitionStatus) *PollingShardConsumer {
	if sc, ok := p.consumers[ps.ID]; ok {
		return sc
	}
	sc := &PollingShardConsumer{
		commonShardConsumer: commonShardConsumer{
			partition:     ps,
			kc:            p.kc,
			checkpointer:  p.checkpointer,
			normalizer:    p.normalizer,
			triggerConfig: p.triggerConfig,
			mService:      p.mService,
			log:           p.log.WithFields(logger.Fields{"partition": ps.ID}),
		},
		streamName: p.streamName,
	}
	p.consumers[ps.ID] = sc
	return sc
}
