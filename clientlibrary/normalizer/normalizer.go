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
// Package normalizer turns Kinesis records and SQS messages into ConsumedRecord values.
package normalizer

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/sqs"
	deagg "github.com/awslabs/kinesis-aggregation/go/deaggregator"
	"github.com/goccy/go-json"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
)

// ErrMalformedRecord is returned for records that can never be normalized. Such records are dropped.
var ErrMalformedRecord = errors.New("malformed record")

// Records produced by the Kinesis Producer Library start with this magic number.
var kplMagic = []byte{0xF3, 0x89, 0x9A, 0xC2}

// SentTimestamp is the SQS system attribute holding the epoch millis the message was sent at.
const sentTimestampAttribute = sqs.MessageSystemAttributeNameSentTimestamp

// Normalizer is stateless and safe for concurrent use.
type Normalizer struct {
	serde config.SerdeType
}

func NewNormalizer(serde config.SerdeType) *Normalizer {
	return &Normalizer{serde: serde}
}

// DroppedRecordsError reports the user records of a Kinesis record that could not be normalized. When
// some user records of an aggregate are well-formed FromKinesis returns them together with this error.
type DroppedRecordsError struct {
	SequenceNumber string
	// Dropped is the number of user records that were dropped.
	Dropped int
	Err     error
}

func (e *DroppedRecordsError) Error() string {
	return fmt.Sprintf("%v: record %s: %d user records dropped: %v", ErrMalformedRecord, e.SequenceNumber, e.Dropped, e.Err)
}

func (e *DroppedRecordsError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func (e *DroppedRecordsError) Unwrap() error {
	return e.Err
}

// DroppedCount returns how many user records err reports as dropped. Any other error counts as one.
func DroppedCount(err error) int {
	if err == nil {
		return 0
	}
	var dropped *DroppedRecordsError
	if errors.As(err, &dropped) {
		return dropped.Dropped
	}
	return 1
}

// FromKinesis normalizes a Kinesis record read from shard partitionID. A KPL aggregated record yields one
// ConsumedRecord per user record, all sharing the sequence number of the aggregate. User records that
// cannot be decoded are left out and reported by a *DroppedRecordsError next to the remaining ones.
func (n *Normalizer) FromKinesis(partitionID string, record *kinesis.Record, millisBehindLatest *int64) ([]*kcl.ConsumedRecord, error) {
	if record == nil || aws.StringValue(record.SequenceNumber) == "" {
		return nil, fmt.Errorf("%w: kinesis record without sequence number", ErrMalformedRecord)
	}
	seq := aws.StringValue(record.SequenceNumber)

	records := []*kinesis.Record{record}
	aggregated := false
	if bytes.HasPrefix(record.Data, kplMagic) {
		dars, err := deagg.DeaggregateRecords(records)
		if err != nil {
			return nil, &DroppedRecordsError{SequenceNumber: seq, Dropped: 1, Err: err}
		}
		// A record failing the KPL checksum is passed through unchanged and is not an aggregate.
		aggregated = len(dars) != 1 || dars[0] != record
		records = dars
	}

	out := make([]*kcl.ConsumedRecord, 0, len(records))
	var dropped *DroppedRecordsError
	for i, r := range records {
		value, err := n.decode(r.Data)
		if err != nil {
			if dropped == nil {
				dropped = &DroppedRecordsError{SequenceNumber: seq, Err: err}
			}
			dropped.Dropped++
			continue
		}

		cr := &kcl.ConsumedRecord{
			Source:                      kcl.KINESIS,
			PartitionID:                 partitionID,
			PartitionKey:                r.PartitionKey,
			Token:                       seq,
			Data:                        r.Data,
			Value:                       value,
			ApproximateArrivalTimestamp: record.ApproximateArrivalTimestamp,
			MillisBehindLatest:          millisBehindLatest,
		}
		if aggregated {
			cr.SubSequenceNumber = aws.Int64(int64(i))
		}
		out = append(out, cr)
	}

	if dropped != nil {
		return out, dropped
	}
	return out, nil
}

// FromSQS normalizes a message received from queueURL. The receipt handle becomes the delivery token.
func (n *Normalizer) FromSQS(queueURL string, message *sqs.Message) (*kcl.ConsumedRecord, error) {
	if message == nil || aws.StringValue(message.ReceiptHandle) == "" {
		return nil, fmt.Errorf("%w: sqs message without receipt handle", ErrMalformedRecord)
	}
	if message.Body == nil {
		return nil, fmt.Errorf("%w: sqs message %s without body", ErrMalformedRecord, aws.StringValue(message.MessageId))
	}

	data := []byte(aws.StringValue(message.Body))
	value, err := n.decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: message %s: %v", ErrMalformedRecord, aws.StringValue(message.MessageId), err)
	}

	cr := &kcl.ConsumedRecord{
		Source:      kcl.SQS,
		PartitionID: queueURL,
		Token:       aws.StringValue(message.ReceiptHandle),
		Data:        data,
		Value:       value,
		MessageID:   message.MessageId,
	}

	if sent, ok := message.Attributes[sentTimestampAttribute]; ok {
		if millis, err := strconv.ParseInt(aws.StringValue(sent), 10, 64); err == nil {
			cr.ApproximateArrivalTimestamp = aws.Time(time.Unix(0, millis*int64(time.Millisecond)).UTC())
		}
	}

	for name, attr := range message.MessageAttributes {
		if attr == nil || attr.StringValue == nil {
			continue
		}
		if cr.Attributes == nil {
			cr.Attributes = make(map[string]string)
		}
		cr.Attributes[name] = *attr.StringValue
	}

	return cr, nil
}

func (n *Normalizer) decode(data []byte) (interface{}, error) {
	switch n.serde {
	case config.JSON:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return string(data), nil
	}
}
