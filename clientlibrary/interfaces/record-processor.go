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
package interfaces

type (
	// IRecordProcessor receives records one at a time from a realtime trigger.
	//
	// Calls are serialized across all partitions of a trigger, and records of the same partition arrive in
	// the order the upstream service produced them. Returning an error means the record was not accepted:
	// Kinesis redelivers it on the next subscription, SQS leaves the message in the queue.
	IRecordProcessor interface {
		ProcessRecord(record *ConsumedRecord) error
	}

	// IBatchProcessor receives the records collected by one polling cycle. It is only called for
	// non-empty batches. Returning an error leaves the batch unacknowledged.
	IBatchProcessor interface {
		ProcessBatch(batch *Batch) error
	}

	// RecordProcessorFunc adapts a function to IRecordProcessor.
	RecordProcessorFunc func(record *ConsumedRecord) error

	// BatchProcessorFunc adapts a function to IBatchProcessor.
	BatchProcessorFunc func(batch *Batch) error
)

// ProcessRecord calls f(record).
func (f RecordProcessorFunc) ProcessRecord(record *ConsumedRecord) error {
	return f(record)
}

// ProcessBatch calls f(batch).
func (f BatchProcessorFunc) ProcessBatch(batch *Batch) error {
	return f(batch)
}
