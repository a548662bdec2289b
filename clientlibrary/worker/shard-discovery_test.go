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
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
)

func TestListShardsFollowsPagination(t *testing.T) {
	ids := shardIDs(5)
	var shards []*kinesis.Shard
	for _, id := range ids {
		shards = append(shards, shard(id))
	}
	kc := newMockKinesis(shards)
	kc.pageSize = 2

	listed, err := listShards(context.Background(), kc, streamName)
	require.Nil(t, err)
	require.Len(t, listed, 5)
	for i, s := range listed {
		assert.Equal(t, ids[i], aws.StringValue(s.ShardId))
	}
}

func TestListShardsError(t *testing.T) {
	kc := newMockKinesis([]*kinesis.Shard{shard("shardId-000000000000")})
	kc.listErr = errors.New("LimitExceededException")

	_, err := listShards(context.Background(), kc, streamName)
	assert.Equal(t, kc.listErr, err)
}

func TestPartitionTableOnlyAdds(t *testing.T) {
	ids := shardIDs(3)
	pt := newPartitionTable(nil)

	child := shard(ids[2])
	child.ParentShardId = aws.String(ids[0])
	child.SequenceNumberRange.EndingSequenceNumber = aws.String("99")

	found := pt.add([]*kinesis.Shard{shard(ids[0]), shard(ids[1])})
	require.Len(t, found, 2)

	found[0].SetResumeToken("5")
	found[0].SetState(par.ENDED)

	// ids[1] vanished, ids[2] appeared
	found = pt.add([]*kinesis.Shard{shard(ids[0]), child})
	require.Len(t, found, 1)
	assert.Equal(t, ids[2], found[0].ID)
	assert.Equal(t, ids[0], found[0].ParentShardID)
	assert.Equal(t, "0", found[0].StartingSequenceNumber)
	assert.Equal(t, "99", found[0].EndingSequenceNumber)

	assert.Equal(t, ids, pt.ids())
	assert.Equal(t, 3, pt.len())
	assert.Equal(t, "5", pt.get(ids[0]).GetResumeToken())
	assert.Equal(t, par.ENDED, pt.get(ids[0]).GetState())
	assert.Nil(t, pt.get("shardId-999999999999"))
}

func TestPartitionTableAllowList(t *testing.T) {
	ids := shardIDs(3)
	pt := newPartitionTable([]string{ids[0], ids[2]})

	found := pt.add([]*kinesis.Shard{shard(ids[0]), shard(ids[1]), shard(ids[2]), {}})
	require.Len(t, found, 2)
	assert.Equal(t, []string{ids[0], ids[2]}, pt.ids())
}
