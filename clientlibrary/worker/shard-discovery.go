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
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"

	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
)

// partitionTable is the set of shards known to a trigger. Shards are only ever added: a shard that
// disappears from the listing keeps its entry, and a shard that reached SHARD_END stays ENDED so it is
// not subscribed again.
type partitionTable struct {
	mux        sync.RWMutex
	partitions map[string]*par.PartitionStatus
	// allowed restricts the table to these shard ids. Empty means every shard.
	allowed map[string]bool
}

func newPartitionTable(shardIDs []string) *partitionTable {
	pt := &partitionTable{partitions: make(map[string]*par.PartitionStatus)}
	if len(shardIDs) > 0 {
		pt.allowed = make(map[string]bool, len(shardIDs))
		for _, id := range shardIDs {
			pt.allowed[id] = true
		}
	}
	return pt
}

// add records the shards not seen before and returns their handles in listing order.
func (pt *partitionTable) add(shards []*kinesis.Shard) []*par.PartitionStatus {
	pt.mux.Lock()
	defer pt.mux.Unlock()

	var found []*par.PartitionStatus
	for _, s := range shards {
		id := aws.StringValue(s.ShardId)
		if id == "" {
			continue
		}
		if pt.allowed != nil && !pt.allowed[id] {
			continue
		}
		if _, ok := pt.partitions[id]; ok {
			continue
		}

		ps := par.NewPartitionStatus(id)
		ps.ParentShardID = aws.StringValue(s.ParentShardId)
		if s.SequenceNumberRange != nil {
			ps.StartingSequenceNumber = aws.StringValue(s.SequenceNumberRange.StartingSequenceNumber)
			ps.EndingSequenceNumber = aws.StringValue(s.SequenceNumberRange.EndingSequenceNumber)
		}
		pt.partitions[id] = ps
		found = append(found, ps)
	}
	return found
}

func (pt *partitionTable) get(id string) *par.PartitionStatus {
	pt.mux.RLock()
	defer pt.mux.RUnlock()
	return pt.partitions[id]
}

// ids returns the known shard ids, sorted.
func (pt *partitionTable) ids() []string {
	pt.mux.RLock()
	defer pt.mux.RUnlock()

	ids := make([]string, 0, len(pt.partitions))
	for id := range pt.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (pt *partitionTable) len() int {
	pt.mux.RLock()
	defer pt.mux.RUnlock()
	return len(pt.partitions)
}

// listShards returns every shard of the stream, following ListShards pagination.
func listShards(ctx context.Context, kc kinesisiface.KinesisAPI, streamName string) ([]*kinesis.Shard, error) {
	var shards []*kinesis.Shard
	args := &kinesis.ListShardsInput{StreamName: aws.String(streamName)}

	for {
		out, err := kc.ListShardsWithContext(ctx, args)
		if err != nil {
			return nil, err
		}
		shards = append(shards, out.Shards...)

		if aws.StringValue(out.NextToken) == "" {
			return shards, nil
		}
		// When you have a nextToken, you can't set the streamName
		args = &kinesis.ListShardsInput{NextToken: out.NextToken}
	}
}

// syncShards lists the stream and registers the shards that are new to the trigger.
func (t *KinesisTrigger) syncShards(ctx context.Context) ([]*par.PartitionStatus, error) {
	shards, err := listShards(ctx, t.kc, t.streamName)
	if err != nil {
		return nil, err
	}

	found := t.partitions.add(shards)
	for _, ps := range found {
		t.log.Infof("Found new shard with id %s", ps.ID)
	}
	return found, nil
}

// eventLoop discovers shards right away and then every ShardSyncIntervalMillis, starting one consumer
// per new shard, until the trigger stops.
func (t *KinesisTrigger) eventLoop() {
	shardSyncSleep := time.Duration(t.triggerConfig.ShardSyncIntervalMillis) * time.Millisecond

	var foundShards int
	for {
		found, err := t.syncShards(t.stopCtx)
		if err != nil && t.active() {
			t.log.Errorf("Error syncing shards: %+v, Retrying in %v...", err, shardSyncSleep)
		}

		for _, ps := range found {
			sc := t.newShardConsumer(ps)
			if !t.spawn(func() { sc.run(t.stopCtx, t.killCtx) }) {
				break
			}
		}

		if n := t.partitions.len(); n != foundShards {
			foundShards = n
			t.log.Infof("Found %d shards", foundShards)
		}

		select {
		case <-t.stopCtx.Done():
			t.log.Infof("Shard discovery stopped.")
			return
		case <-time.After(shardSyncSleep):
			t.log.Debugf("Waited %v to sync shards...", shardSyncSleep)
		}
	}
}
