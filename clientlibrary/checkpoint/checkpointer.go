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
// Package checkpoint stores resume tokens on behalf of the host. The triggers never write checkpoints:
// they read one when a partition is first subscribed, and the host records progress after it has
// durably handled a record.
package checkpoint

import (
	"errors"

	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
)

const (
	PartitionKeyKey   = "PartitionID"
	SequenceNumberKey = "Checkpoint"
	ParentShardIdKey  = "ParentShardId"
	UpdatedAtKey      = "UpdatedAt"
)

// Checkpointer persists the resume token of each partition.
type Checkpointer interface {
	// Init prepares the backing store.
	Init() error

	// CheckpointSequence writes the partition's current resume token.
	CheckpointSequence(*par.PartitionStatus) error

	// FetchCheckpoint loads the stored resume token into the partition. It returns ErrSequenceIDNotFound
	// when nothing is stored.
	FetchCheckpoint(*par.PartitionStatus) error

	// RemoveCheckpoint deletes the stored resume token of a partition.
	RemoveCheckpoint(partitionID string) error
}

// ErrSequenceIDNotFound is returned by FetchCheckpoint when no SequenceID is found
var ErrSequenceIDNotFound = errors.New("SequenceIDNotFoundForPartition")
