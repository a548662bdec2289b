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
package checkpoint

import (
	"sync"

	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
)

// MemoryCheckpoint keeps resume tokens in process memory. Tokens survive a trigger restart but not a host
// restart.
type MemoryCheckpoint struct {
	mux    sync.RWMutex
	tokens map[string]string
}

func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{tokens: make(map[string]string)}
}

func (m *MemoryCheckpoint) Init() error {
	return nil
}

func (m *MemoryCheckpoint) CheckpointSequence(partition *par.PartitionStatus) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.tokens[partition.ID] = partition.GetResumeToken()
	return nil
}

func (m *MemoryCheckpoint) FetchCheckpoint(partition *par.PartitionStatus) error {
	m.mux.RLock()
	token, ok := m.tokens[partition.ID]
	m.mux.RUnlock()
	if !ok || token == "" {
		return ErrSequenceIDNotFound
	}
	partition.SetResumeToken(token)
	return nil
}

func (m *MemoryCheckpoint) RemoveCheckpoint(partitionID string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.tokens, partitionID)
	return nil
}
