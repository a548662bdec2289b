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
// Package config holds the host supplied configuration of the Kinesis and SQS triggers.
package config

import (
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	creds "github.com/aws/aws-sdk-go/aws/credentials"

	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

const (
	// LATEST start after the most recent data record (fetch new data).
	LATEST InitialPositionInStream = iota + 1
	// TRIM_HORIZON start from the oldest available data record.
	TRIM_HORIZON
	// AT_TIMESTAMP start from the record at or after the specified server-side Timestamp.
	AT_TIMESTAMP
	// AT_SEQUENCE_NUMBER start from the record with the specified sequence number.
	AT_SEQUENCE_NUMBER

	// The location in the shard from which the trigger starts reading when the host supplies no checkpoint.
	DefaultInitialPositionInStream = LATEST

	// Polling cycles read everything retained since the last accepted batch, so a fresh poller starts at the oldest record.
	DefaultPollingInitialPositionInStream = TRIM_HORIZON

	// STRING decodes payloads as UTF-8 text.
	STRING SerdeType = "STRING"
	// JSON decodes payloads as a JSON document.
	JSON SerdeType = "JSON"

	DefaultSerdeType = STRING

	// Shard sync interval in milliseconds: how long discovery waits between two ListShards passes.
	DefaultShardSyncIntervalMillis = 30000

	// Fixed wait before a subscription is reopened after the previous one ended or failed.
	// There is no exponential growth and no retry limit.
	DefaultResubscribeBackoffMillis = 500

	// Long poll wait of an SQS ReceiveMessage call. 20 seconds is the maximum SQS allows.
	DefaultWaitTimeSeconds = 20

	// Max messages returned by one SQS ReceiveMessage call.
	DefaultMaxNumberOfMessages = 5

	// Visibility timeout of received SQS messages. 0 keeps the queue setting.
	DefaultVisibilityTimeoutSeconds = 0

	// Number of retries the AWS client performs for a single failed request.
	DefaultClientRetryMaxAttempts = 3

	// Max records to fetch from Kinesis in a single GetRecords call (polling triggers).
	DefaultMaxRecords = 1000

	// Max records collected by one polling cycle across all partitions.
	DefaultMaxRecordsPerPoll = 1000

	// Max duration of one polling cycle.
	DefaultMaxDurationMillis = 30000

	// How long a polling cycle sleeps when a GetRecords call returns nothing but the shard is still behind.
	DefaultIdleTimeBetweenReadsMillis = 1000

	// Interval between two polling cycles.
	DefaultPollIntervalMillis = 60000

	// The DynamoDB checkpoint table is provisioned with this read capacity.
	DefaultCheckpointTableReadCapacity = 10

	// The DynamoDB checkpoint table is provisioned with this write capacity.
	DefaultCheckpointTableWriteCapacity = 10

	maxSQSWaitTimeSeconds   = 20
	maxSQSMessages          = 10
	maxSQSVisibilitySeconds = 43200
	maxKinesisRecords       = 10000
)

var (
	// https://docs.aws.amazon.com/kinesis/latest/APIReference/API_Shard.html
	shardIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,128}$`)
	// https://docs.aws.amazon.com/kinesis/latest/APIReference/API_StartingPosition.html
	sequenceNumberPattern = regexp.MustCompile(`^(0|[1-9]\d{0,128})$`)
)

type (
	// InitialPositionInStream is where a subscription starts when there is no resume token for its partition.
	InitialPositionInStream int

	// SerdeType is how record payloads are decoded.
	SerdeType string

	// InitialPositionInStreamExtended carries the value some positions need.
	InitialPositionInStreamExtended struct {
		Position InitialPositionInStream

		// The time stamp of the data record from which to start reading. Used with AT_TIMESTAMP.
		// If a record with this exact time stamp does not exist, the iterator returned is for the next
		// (later) record. If the time stamp is older than the current trim horizon, reading starts at
		// TRIM_HORIZON.
		Timestamp *time.Time

		// SequenceNumber used with AT_SEQUENCE_NUMBER.
		SequenceNumber string
	}

	// TriggerConfiguration configures a Kinesis or SQS trigger, realtime or polling.
	// Note: There is no need to configure credentials; the default provider chain is used when nil.
	TriggerConfiguration struct {
		// Source is the service the trigger reads from.
		Source kcl.SourceType

		// ApplicationName names the consumer. It is the default enhanced fan-out consumer name, checkpoint
		// table name and metrics namespace.
		ApplicationName string

		// RegionName is the AWS region of the stream or queue.
		RegionName string

		// KinesisEndpoint optionally overrides the generated Kinesis endpoint.
		KinesisEndpoint string

		// SQSEndpoint optionally overrides the generated SQS endpoint.
		SQSEndpoint string

		// DynamoDBEndpoint optionally overrides the generated DynamoDB endpoint of the checkpoint table.
		DynamoDBEndpoint string

		// Credentials used by every client of the trigger.
		Credentials *creds.Credentials

		// ClientRetryMaxAttempts is the number of retries of the AWS client for one request.
		ClientRetryMaxAttempts int

		// WorkerID distinguishes processes running the same trigger.
		WorkerID string

		// SerdeType decodes payloads into ConsumedRecord.Value.
		SerdeType SerdeType

		// StreamName is the name of the Kinesis stream.
		StreamName string

		// EnhancedFanOutConsumerName is registered on the stream when no ARN is given.
		// See: https://docs.aws.amazon.com/streams/latest/dev/enhanced-consumers.html
		EnhancedFanOutConsumerName string

		// EnhancedFanOutConsumerARN is the ARN of an existing enhanced fan-out consumer. When set no
		// registration is attempted.
		EnhancedFanOutConsumerARN string

		// InitialPositionInStream specifies where subscriptions start when no resume token exists.
		InitialPositionInStream InitialPositionInStream

		// InitialPositionInStreamExtended carries the AT_TIMESTAMP / AT_SEQUENCE_NUMBER values.
		InitialPositionInStreamExtended InitialPositionInStreamExtended

		// ShardIDs restricts the trigger to these shards. Empty means every shard of the stream.
		ShardIDs []string

		// ShardSyncIntervalMillis is the time between two discovery passes.
		ShardSyncIntervalMillis int

		// ResubscribeBackoffMillis is the fixed wait before reopening a subscription.
		ResubscribeBackoffMillis int

		// QueueURL is the url of the SQS queue.
		QueueURL string

		// WaitTimeSeconds is the long poll duration of ReceiveMessage (0 to 20).
		WaitTimeSeconds int

		// MaxNumberOfMessages is the max messages returned by one ReceiveMessage (1 to 10).
		MaxNumberOfMessages int

		// VisibilityTimeoutSeconds hides received messages for this long. 0 keeps the queue setting.
		VisibilityTimeoutSeconds int

		// MaxRecords is the max records read by one GetRecords call.
		MaxRecords int

		// MaxRecordsPerPoll bounds the size of the batch built by one polling cycle. 0 means no bound.
		MaxRecordsPerPoll int

		// MaxDurationMillis bounds the duration of one polling cycle. 0 means no bound.
		MaxDurationMillis int

		// IdleTimeBetweenReadsInMillis is the pause of a polling cycle between empty reads.
		IdleTimeBetweenReadsInMillis int

		// PollIntervalMillis is the interval between two polling cycles.
		PollIntervalMillis int

		// TableName is the DynamoDB table used by the DynamoDB checkpointer.
		TableName string

		// Read capacity to provision when creating the checkpoint table.
		InitialCheckpointTableReadCapacity int

		// Write capacity to provision when creating the checkpoint table.
		InitialCheckpointTableWriteCapacity int

		// Logger used to log message.
		Logger logger.Logger

		// MonitoringService publishes the trigger metrics.
		MonitoringService metrics.MonitoringService
	}

	// ValidationError is a configuration problem detected when a trigger starts.
	ValidationError struct {
		Field  string
		Reason string
	}
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trigger configuration: %s %s", e.Field, e.Reason)
}

var positionMap = map[InitialPositionInStream]*string{
	LATEST:             aws.String("LATEST"),
	TRIM_HORIZON:       aws.String("TRIM_HORIZON"),
	AT_TIMESTAMP:       aws.String("AT_TIMESTAMP"),
	AT_SEQUENCE_NUMBER: aws.String("AT_SEQUENCE_NUMBER"),
}

// InitalPositionInStreamToShardIteratorType maps a position to the Kinesis iterator type.
func InitalPositionInStreamToShardIteratorType(pos InitialPositionInStream) *string {
	return positionMap[pos]
}

// ParseInitialPositionInStream parses LATEST, TRIM_HORIZON, AT_TIMESTAMP or AT_SEQUENCE_NUMBER.
func ParseInitialPositionInStream(s string) (InitialPositionInStream, error) {
	for pos, name := range positionMap {
		if strings.EqualFold(*name, s) {
			return pos, nil
		}
	}
	return 0, &ValidationError{Field: "InitialPositionInStream", Reason: fmt.Sprintf("unknown value %q", s)}
}

// Validate checks the settings required by the configured source. It is called by the triggers when they
// start, so a bad configuration keeps the trigger from running.
func (c *TriggerConfiguration) Validate() error {
	if err := checkSerde(c.SerdeType); err != nil {
		return err
	}
	if c.Logger == nil {
		return &ValidationError{Field: "Logger", Reason: "must not be nil"}
	}

	switch c.Source {
	case kcl.KINESIS:
		return c.validateKinesis()
	case kcl.SQS:
		return c.validateSQS()
	default:
		return &ValidationError{Field: "Source", Reason: fmt.Sprintf("unknown source %q", c.Source)}
	}
}

// ValidateRealtime checks the settings of a realtime trigger on top of Validate.
func (c *TriggerConfiguration) ValidateRealtime() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source == kcl.KINESIS && empty(c.EnhancedFanOutConsumerARN) && empty(c.EnhancedFanOutConsumerName) {
		return &ValidationError{Field: "EnhancedFanOutConsumerARN", Reason: "or EnhancedFanOutConsumerName is required"}
	}
	return nil
}

// ValidatePolling checks the settings of a polling trigger on top of Validate.
func (c *TriggerConfiguration) ValidatePolling() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.MaxRecordsPerPoll <= 0 && c.MaxDurationMillis <= 0 {
		return &ValidationError{Field: "MaxRecordsPerPoll", Reason: "or MaxDurationMillis must bound the polling cycle"}
	}
	if c.PollIntervalMillis <= 0 {
		return &ValidationError{Field: "PollIntervalMillis", Reason: "must be positive"}
	}
	if c.Source == kcl.KINESIS && (c.MaxRecords <= 0 || c.MaxRecords > maxKinesisRecords) {
		return &ValidationError{Field: "MaxRecords", Reason: fmt.Sprintf("must be between 1 and %d, actual: %d", maxKinesisRecords, c.MaxRecords)}
	}
	return nil
}

func (c *TriggerConfiguration) validateKinesis() error {
	if empty(c.StreamName) {
		return &ValidationError{Field: "StreamName", Reason: "must not be empty"}
	}
	if c.ShardSyncIntervalMillis <= 0 {
		return &ValidationError{Field: "ShardSyncIntervalMillis", Reason: "must be positive"}
	}
	if c.ResubscribeBackoffMillis <= 0 {
		return &ValidationError{Field: "ResubscribeBackoffMillis", Reason: "must be positive"}
	}
	for _, id := range c.ShardIDs {
		if !shardIDPattern.MatchString(id) {
			return &ValidationError{Field: "ShardIDs", Reason: fmt.Sprintf("contains malformed shard id %q", id)}
		}
	}

	ext := c.InitialPositionInStreamExtended
	switch c.InitialPositionInStream {
	case LATEST, TRIM_HORIZON:
	case AT_TIMESTAMP:
		if ext.Timestamp == nil {
			return &ValidationError{Field: "InitialPositionInStreamExtended.Timestamp", Reason: "is required with AT_TIMESTAMP"}
		}
	case AT_SEQUENCE_NUMBER:
		if empty(ext.SequenceNumber) {
			return &ValidationError{Field: "InitialPositionInStreamExtended.SequenceNumber", Reason: "is required with AT_SEQUENCE_NUMBER"}
		}
		if !sequenceNumberPattern.MatchString(ext.SequenceNumber) {
			return &ValidationError{Field: "InitialPositionInStreamExtended.SequenceNumber", Reason: fmt.Sprintf("is not a sequence number: %q", ext.SequenceNumber)}
		}
	default:
		return &ValidationError{Field: "InitialPositionInStream", Reason: fmt.Sprintf("unknown value %d", c.InitialPositionInStream)}
	}
	return nil
}

func (c *TriggerConfiguration) validateSQS() error {
	if empty(c.QueueURL) {
		return &ValidationError{Field: "QueueURL", Reason: "must not be empty"}
	}
	u, err := url.Parse(c.QueueURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return &ValidationError{Field: "QueueURL", Reason: fmt.Sprintf("is not a queue url: %q", c.QueueURL)}
	}
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > maxSQSWaitTimeSeconds {
		return &ValidationError{Field: "WaitTimeSeconds", Reason: fmt.Sprintf("must be between 0 and %d, actual: %d", maxSQSWaitTimeSeconds, c.WaitTimeSeconds)}
	}
	if c.MaxNumberOfMessages < 1 || c.MaxNumberOfMessages > maxSQSMessages {
		return &ValidationError{Field: "MaxNumberOfMessages", Reason: fmt.Sprintf("must be between 1 and %d, actual: %d", maxSQSMessages, c.MaxNumberOfMessages)}
	}
	if c.VisibilityTimeoutSeconds < 0 || c.VisibilityTimeoutSeconds > maxSQSVisibilitySeconds {
		return &ValidationError{Field: "VisibilityTimeoutSeconds", Reason: fmt.Sprintf("must be between 0 and %d, actual: %d", maxSQSVisibilitySeconds, c.VisibilityTimeoutSeconds)}
	}
	if c.ResubscribeBackoffMillis <= 0 {
		return &ValidationError{Field: "ResubscribeBackoffMillis", Reason: "must be positive"}
	}
	return nil
}

func checkSerde(serde SerdeType) error {
	switch serde {
	case STRING, JSON:
		return nil
	default:
		return &ValidationError{Field: "SerdeType", Reason: fmt.Sprintf("unknown value %q", serde)}
	}
}

func empty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// checkIsValueNotEmpty makes sure the value is not empty.
func checkIsValueNotEmpty(key string, value string) {
	if empty(value) {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Non-empty value expected for %v, actual: %v", key, value)
	}
}

// checkIsValuePositive makes sure the value is positive.
func checkIsValuePositive(key string, value int) {
	if value <= 0 {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Positive value expected for %v, actual: %v", key, value)
	}
}
