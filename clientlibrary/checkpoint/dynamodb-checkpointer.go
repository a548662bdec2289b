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
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/utils"
	"github.com/vmware/vmware-go-streamtrigger/logger"
)

const (
	// NumMaxRetries is the max times of doing retry
	NumMaxRetries = 10
)

// DynamoCheckpoint implements the Checkpointer interface using DynamoDB as a backend.
// Items are keyed by partition id; one table holds a single trigger's partitions.
type DynamoCheckpoint struct {
	log                logger.Logger
	TableName          string
	tableReadCapacity  int64
	tableWriteCapacity int64
	triggerConfig      *config.TriggerConfiguration
	svc                dynamodbiface.DynamoDBAPI
	Retries            int
}

func NewDynamoCheckpoint(triggerConfig *config.TriggerConfiguration) *DynamoCheckpoint {
	return &DynamoCheckpoint{
		log:                triggerConfig.Logger,
		TableName:          triggerConfig.TableName,
		tableReadCapacity:  int64(triggerConfig.InitialCheckpointTableReadCapacity),
		tableWriteCapacity: int64(triggerConfig.InitialCheckpointTableWriteCapacity),
		triggerConfig:      triggerConfig,
		Retries:            NumMaxRetries,
	}
}

// WithDynamoDB is used to provide DynamoDB service
func (checkpointer *DynamoCheckpoint) WithDynamoDB(svc dynamodbiface.DynamoDBAPI) *DynamoCheckpoint {
	checkpointer.svc = svc
	return checkpointer
}

// Init creates the DynamoDB client if none was provided and the table if it does not exist.
func (checkpointer *DynamoCheckpoint) Init() error {
	if checkpointer.svc == nil {
		checkpointer.log.Infof("Creating DynamoDB session")

		cfg := &aws.Config{
			Region:      aws.String(checkpointer.triggerConfig.RegionName),
			Credentials: checkpointer.triggerConfig.Credentials,
			Retryer: client.DefaultRetryer{
				NumMaxRetries:    checkpointer.Retries,
				MinRetryDelay:    client.DefaultRetryerMinRetryDelay,
				MinThrottleDelay: client.DefaultRetryerMinThrottleDelay,
				MaxRetryDelay:    client.DefaultRetryerMaxRetryDelay,
				MaxThrottleDelay: client.DefaultRetryerMaxRetryDelay,
			},
		}
		if checkpointer.triggerConfig.DynamoDBEndpoint != "" {
			cfg.Endpoint = aws.String(checkpointer.triggerConfig.DynamoDBEndpoint)
		}

		s, err := session.NewSession(cfg)
		if err != nil {
			checkpointer.log.Errorf("Failed in getting DynamoDB session for the checkpoint table: %+v", err)
			return err
		}
		checkpointer.svc = dynamodb.New(s)
	}

	exists, err := checkpointer.doesTableExist()
	if err != nil {
		return err
	}
	if !exists {
		checkpointer.log.Infof("Creating checkpoint table %s", checkpointer.TableName)
		return checkpointer.createTable()
	}
	return nil
}

// CheckpointSequence writes a checkpoint at the partition's resume token
func (checkpointer *DynamoCheckpoint) CheckpointSequence(partition *par.PartitionStatus) error {
	item := map[string]*dynamodb.AttributeValue{
		PartitionKeyKey: {
			S: aws.String(partition.ID),
		},
		SequenceNumberKey: {
			S: aws.String(partition.GetResumeToken()),
		},
		UpdatedAtKey: {
			S: aws.String(time.Now().UTC().Format(time.RFC3339)),
		},
	}

	if len(partition.ParentShardID) > 0 {
		item[ParentShardIdKey] = &dynamodb.AttributeValue{S: aws.String(partition.ParentShardID)}
	}

	_, err := checkpointer.svc.PutItem(&dynamodb.PutItemInput{
		TableName: aws.String(checkpointer.TableName),
		Item:      item,
	})
	return err
}

// FetchCheckpoint retrieves the checkpoint for the given partition
func (checkpointer *DynamoCheckpoint) FetchCheckpoint(partition *par.PartitionStatus) error {
	out, err := checkpointer.svc.GetItem(&dynamodb.GetItemInput{
		TableName:      aws.String(checkpointer.TableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			PartitionKeyKey: {
				S: aws.String(partition.ID),
			},
		},
	})
	if err != nil {
		return err
	}

	sequenceID, ok := out.Item[SequenceNumberKey]
	if !ok || aws.StringValue(sequenceID.S) == "" {
		return ErrSequenceIDNotFound
	}
	checkpointer.log.Debugf("Retrieved checkpoint %s for partition %s", aws.StringValue(sequenceID.S), partition.ID)
	partition.SetResumeToken(aws.StringValue(sequenceID.S))
	return nil
}

// RemoveCheckpoint deletes the checkpoint item of a partition
func (checkpointer *DynamoCheckpoint) RemoveCheckpoint(partitionID string) error {
	_, err := checkpointer.svc.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(checkpointer.TableName),
		Key: map[string]*dynamodb.AttributeValue{
			PartitionKeyKey: {
				S: aws.String(partitionID),
			},
		},
	})

	if err != nil {
		checkpointer.log.Errorf("Error in removing checkpoint for partition: %s, Error: %+v", partitionID, err)
	} else {
		checkpointer.log.Infof("Checkpoint for partition: %s has been removed.", partitionID)
	}
	return err
}

func (checkpointer *DynamoCheckpoint) createTable() error {
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(PartitionKeyKey),
				AttributeType: aws.String(dynamodb.ScalarAttributeTypeS),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(PartitionKeyKey),
				KeyType:       aws.String(dynamodb.KeyTypeHash),
			},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(checkpointer.tableReadCapacity),
			WriteCapacityUnits: aws.Int64(checkpointer.tableWriteCapacity),
		},
		TableName: aws.String(checkpointer.TableName),
	}
	_, err := checkpointer.svc.CreateTable(input)
	return err
}

func (checkpointer *DynamoCheckpoint) doesTableExist() (bool, error) {
	_, err := checkpointer.svc.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(checkpointer.TableName),
	})
	if err == nil {
		return true, nil
	}
	if utils.AWSErrCode(err) == dynamodb.ErrCodeResourceNotFoundException {
		return false, nil
	}
	return false, err
}
