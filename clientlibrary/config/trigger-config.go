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
package config

import (
	"log"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"

	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/utils"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// NewKinesisTriggerConfig creates a TriggerConfiguration reading from a Kinesis stream, with default values.
func NewKinesisTriggerConfig(applicationName, streamName, regionName string) *TriggerConfiguration {
	checkIsValueNotEmpty("StreamName", streamName)

	c := newTriggerConfig(kcl.KINESIS, applicationName, regionName)
	c.StreamName = streamName
	return c
}

// NewKinesisPollingConfig creates a TriggerConfiguration for a KinesisPoller. It only differs from
// NewKinesisTriggerConfig by starting at TRIM_HORIZON when there is no resume token.
func NewKinesisPollingConfig(applicationName, streamName, regionName string) *TriggerConfiguration {
	return NewKinesisTriggerConfig(applicationName, streamName, regionName).
		WithInitialPositionInStream(DefaultPollingInitialPositionInStream)
}

// NewSQSTriggerConfig creates a TriggerConfiguration receiving from an SQS queue, with default values.
func NewSQSTriggerConfig(applicationName, queueURL, regionName string) *TriggerConfiguration {
	checkIsValueNotEmpty("QueueURL", queueURL)

	c := newTriggerConfig(kcl.SQS, applicationName, regionName)
	c.QueueURL = queueURL
	return c
}

func newTriggerConfig(source kcl.SourceType, applicationName, regionName string) *TriggerConfiguration {
	checkIsValueNotEmpty("ApplicationName", applicationName)
	checkIsValueNotEmpty("RegionName", regionName)

	return &TriggerConfiguration{
		Source:                              source,
		ApplicationName:                     applicationName,
		RegionName:                          regionName,
		ClientRetryMaxAttempts:              DefaultClientRetryMaxAttempts,
		WorkerID:                            utils.MustNewUUID(),
		SerdeType:                           DefaultSerdeType,
		EnhancedFanOutConsumerName:          applicationName,
		InitialPositionInStream:             DefaultInitialPositionInStream,
		InitialPositionInStreamExtended:     InitialPositionInStreamExtended{Position: DefaultInitialPositionInStream},
		ShardSyncIntervalMillis:             DefaultShardSyncIntervalMillis,
		ResubscribeBackoffMillis:            DefaultResubscribeBackoffMillis,
		WaitTimeSeconds:                     DefaultWaitTimeSeconds,
		MaxNumberOfMessages:                 DefaultMaxNumberOfMessages,
		VisibilityTimeoutSeconds:            DefaultVisibilityTimeoutSeconds,
		MaxRecords:                          DefaultMaxRecords,
		MaxRecordsPerPoll:                   DefaultMaxRecordsPerPoll,
		MaxDurationMillis:                   DefaultMaxDurationMillis,
		IdleTimeBetweenReadsInMillis:        DefaultIdleTimeBetweenReadsMillis,
		PollIntervalMillis:                  DefaultPollIntervalMillis,
		TableName:                           applicationName,
		InitialCheckpointTableReadCapacity:  DefaultCheckpointTableReadCapacity,
		InitialCheckpointTableWriteCapacity: DefaultCheckpointTableWriteCapacity,
		Logger:                              logger.GetDefaultLogger(),
		MonitoringService:                   metrics.NoopMonitoringService{},
	}
}

// WithKinesisEndpoint is used to provide an alternative Kinesis endpoint
func (c *TriggerConfiguration) WithKinesisEndpoint(kinesisEndpoint string) *TriggerConfiguration {
	c.KinesisEndpoint = kinesisEndpoint
	return c
}

// WithSQSEndpoint is used to provide an alternative SQS endpoint
func (c *TriggerConfiguration) WithSQSEndpoint(sqsEndpoint string) *TriggerConfiguration {
	c.SQSEndpoint = sqsEndpoint
	return c
}

// WithDynamoDBEndpoint is used to provide an alternative DynamoDB endpoint for the checkpoint table
func (c *TriggerConfiguration) WithDynamoDBEndpoint(dynamoDBEndpoint string) *TriggerConfiguration {
	c.DynamoDBEndpoint = dynamoDBEndpoint
	return c
}

func (c *TriggerConfiguration) WithCredentials(credentials *credentials.Credentials) *TriggerConfiguration {
	c.Credentials = credentials
	return c
}

func (c *TriggerConfiguration) WithClientRetryMaxAttempts(attempts int) *TriggerConfiguration {
	if attempts < 0 {
		attempts = 0
	}
	c.ClientRetryMaxAttempts = attempts
	return c
}

func (c *TriggerConfiguration) WithWorkerID(workerID string) *TriggerConfiguration {
	checkIsValueNotEmpty("WorkerID", workerID)
	c.WorkerID = workerID
	return c
}

func (c *TriggerConfiguration) WithSerdeType(serde SerdeType) *TriggerConfiguration {
	c.SerdeType = serde
	return c
}

// WithEnhancedFanOutConsumerName sets the name of the consumer registered on the stream.
func (c *TriggerConfiguration) WithEnhancedFanOutConsumerName(consumerName string) *TriggerConfiguration {
	checkIsValueNotEmpty("EnhancedFanOutConsumerName", consumerName)
	c.EnhancedFanOutConsumerName = consumerName
	return c
}

// WithEnhancedFanOutConsumerARN sets the ARN of an existing consumer; registration is then skipped.
func (c *TriggerConfiguration) WithEnhancedFanOutConsumerARN(consumerARN string) *TriggerConfiguration {
	checkIsValueNotEmpty("EnhancedFanOutConsumerARN", consumerARN)
	c.EnhancedFanOutConsumerARN = consumerARN
	return c
}

func (c *TriggerConfiguration) WithInitialPositionInStream(initialPositionInStream InitialPositionInStream) *TriggerConfiguration {
	c.InitialPositionInStream = initialPositionInStream
	c.InitialPositionInStreamExtended = InitialPositionInStreamExtended{Position: initialPositionInStream}
	return c
}

func (c *TriggerConfiguration) WithTimestampAtInitialPositionInStream(timestamp *time.Time) *TriggerConfiguration {
	c.InitialPositionInStream = AT_TIMESTAMP
	c.InitialPositionInStreamExtended = InitialPositionInStreamExtended{Position: AT_TIMESTAMP, Timestamp: timestamp}
	return c
}

func (c *TriggerConfiguration) WithSequenceNumberAtInitialPositionInStream(sequenceNumber string) *TriggerConfiguration {
	c.InitialPositionInStream = AT_SEQUENCE_NUMBER
	c.InitialPositionInStreamExtended = InitialPositionInStreamExtended{Position: AT_SEQUENCE_NUMBER, SequenceNumber: sequenceNumber}
	return c
}

// WithShardIDs restricts the trigger to the given shards.
func (c *TriggerConfiguration) WithShardIDs(shardIDs ...string) *TriggerConfiguration {
	c.ShardIDs = shardIDs
	return c
}

func (c *TriggerConfiguration) WithShardSyncIntervalMillis(shardSyncIntervalMillis int) *TriggerConfiguration {
	checkIsValuePositive("ShardSyncIntervalMillis", shardSyncIntervalMillis)
	c.ShardSyncIntervalMillis = shardSyncIntervalMillis
	return c
}

func (c *TriggerConfiguration) WithResubscribeBackoffMillis(backoffMillis int) *TriggerConfiguration {
	checkIsValuePositive("ResubscribeBackoffMillis", backoffMillis)
	c.ResubscribeBackoffMillis = backoffMillis
	return c
}

func (c *TriggerConfiguration) WithWaitTimeSeconds(waitTimeSeconds int) *TriggerConfiguration {
	c.WaitTimeSeconds = waitTimeSeconds
	return c
}

func (c *TriggerConfiguration) WithMaxNumberOfMessages(maxNumberOfMessages int) *TriggerConfiguration {
	checkIsValuePositive("MaxNumberOfMessages", maxNumberOfMessages)
	c.MaxNumberOfMessages = maxNumberOfMessages
	return c
}

func (c *TriggerConfiguration) WithVisibilityTimeoutSeconds(visibilityTimeoutSeconds int) *TriggerConfiguration {
	c.VisibilityTimeoutSeconds = visibilityTimeoutSeconds
	return c
}

// WithMaxRecords sets the max number of records to read per Kinesis GetRecords call
func (c *TriggerConfiguration) WithMaxRecords(maxRecords int) *TriggerConfiguration {
	checkIsValuePositive("MaxRecords", maxRecords)
	c.MaxRecords = maxRecords
	return c
}

// WithMaxRecordsPerPoll bounds the batch size of a polling cycle. 0 removes the bound.
func (c *TriggerConfiguration) WithMaxRecordsPerPoll(maxRecordsPerPoll int) *TriggerConfiguration {
	c.MaxRecordsPerPoll = maxRecordsPerPoll
	return c
}

// WithMaxDurationMillis bounds the duration of a polling cycle. 0 removes the bound.
func (c *TriggerConfiguration) WithMaxDurationMillis(maxDurationMillis int) *TriggerConfiguration {
	c.MaxDurationMillis = maxDurationMillis
	return c
}

func (c *TriggerConfiguration) WithIdleTimeBetweenReadsInMillis(idleTimeBetweenReadsInMillis int) *TriggerConfiguration {
	checkIsValuePositive("IdleTimeBetweenReadsInMillis", idleTimeBetweenReadsInMillis)
	c.IdleTimeBetweenReadsInMillis = idleTimeBetweenReadsInMillis
	return c
}

func (c *TriggerConfiguration) WithPollIntervalMillis(pollIntervalMillis int) *TriggerConfiguration {
	checkIsValuePositive("PollIntervalMillis", pollIntervalMillis)
	c.PollIntervalMillis = pollIntervalMillis
	return c
}

// WithTableName to provide an alternative checkpoint table in DynamoDB
func (c *TriggerConfiguration) WithTableName(tableName string) *TriggerConfiguration {
	checkIsValueNotEmpty("TableName", tableName)
	c.TableName = tableName
	return c
}

// WithLogger sets the logger implementation
func (c *TriggerConfiguration) WithLogger(logger logger.Logger) *TriggerConfiguration {
	if logger == nil {
		log.Panic("Logger cannot be null")
	}
	c.Logger = logger
	return c
}

// WithMonitoringService sets the monitoring service to use to publish metrics.
func (c *TriggerConfiguration) WithMonitoringService(mService metrics.MonitoringService) *TriggerConfiguration {
	// Nil case is handled downward (at worker creation) so no need to do it here.
	c.MonitoringService = mService
	return c
}
