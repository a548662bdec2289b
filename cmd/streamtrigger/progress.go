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
package main

import (
	"sort"
	"sync"

	chk "github.com/vmware/vmware-go-streamtrigger/clientlibrary/checkpoint"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// progress writes the resume token of a partition to the checkpoint table whenever it moved.
// It is a no-op without a checkpointer.
type progress struct {
	checkpointer chk.Checkpointer
	partition    func(id string) *par.PartitionStatus
	log          logger.Logger

	mux     sync.Mutex
	written map[string]string
}

func newProgress(checkpointer chk.Checkpointer, log logger.Logger) *progress {
	return &progress{checkpointer: checkpointer, log: log, written: make(map[string]string)}
}

func (p *progress) record(partitionID string) {
	if p.checkpointer == nil || p.partition == nil {
		return
	}
	ps := p.partition(partitionID)
	if ps == nil {
		return
	}

	p.mux.Lock()
	defer p.mux.Unlock()

	token := ps.GetResumeToken()
	last, seen := p.written[partitionID]
	if !seen {
		p.written[partitionID] = ""
	}
	if token == "" || last == token {
		return
	}
	if err := p.checkpointer.CheckpointSequence(ps); err != nil {
		p.log.Errorf("Failed to checkpoint %s at %s: %+v", partitionID, token, err)
		return
	}
	p.written[partitionID] = token
}

func (p *progress) recordAll(batch *kcl.Batch) {
	seen := make(map[string]bool)
	for _, r := range batch.Records {
		if !seen[r.PartitionID] {
			seen[r.PartitionID] = true
			p.record(r.PartitionID)
		}
	}
}

// flush writes the final position of every partition a record was seen from.
func (p *progress) flush() {
	p.mux.Lock()
	ids := make([]string, 0, len(p.written))
	for id := range p.written {
		ids = append(ids, id)
	}
	p.mux.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		p.record(id)
	}
}
