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

import (
	"time"
)

const (
	// KINESIS marks records read from a Kinesis data stream shard.
	KINESIS SourceType = "KINESIS"

	// SQS marks messages received from an SQS queue.
	SQS SourceType = "SQS"
)

type (
	// SourceType identifies the AWS service a ConsumedRecord was read from.
	SourceType string

	// ConsumedRecord is the source agnostic unit handed to the host. Optional attributes are nil when the
	// source does not provide them (e.g. SQS has no partition key, Kinesis has no message id).
	ConsumedRecord struct {
		// Source is the service the record was read from.
		Source SourceType `json:"source"`

		// PartitionID is the shard id for Kinesis, or the queue url for SQS.
		PartitionID string `json:"partitionId"`

		// PartitionKey is the Kinesis partition key of the record.
		PartitionKey *string `json:"partitionKey,omitempty"`

		// Token is the delivery token: the sequence number for Kinesis (unique and increasing within a
		// shard), or the receipt handle for SQS (valid for a single acknowledgement).
		Token string `json:"token"`

		// SubSequenceNumber is set for user records de-aggregated from a KPL aggregated record.
		SubSequenceNumber *int64 `json:"subSequenceNumber,omitempty"`

		// Data is the raw payload.
		Data []byte `json:"-"`

		// Value is the payload decoded with the configured serde: a string, or the decoded JSON document.
		Value interface{} `json:"data"`

		// ApproximateArrivalTimestamp is when the record reached the service, if known.
		ApproximateArrivalTimestamp *time.Time `json:"approximateArrivalTimestamp,omitempty"`

		// MessageID is the SQS message id.
		MessageID *string `json:"messageId,omitempty"`

		// Attributes holds SQS message attributes with string values.
		Attributes map[string]string `json:"attributes,omitempty"`

		// MillisBehindLatest is how far the Kinesis subscription was behind the tip of the shard when the
		// record was delivered.
		MillisBehindLatest *int64 `json:"millisBehindLatest,omitempty"`
	}

	// Batch is the set of records collected by one polling cycle.
	Batch struct {
		Records []*ConsumedRecord
	}
)

// Count returns the number of records in the batch.
func (b *Batch) Count() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}
