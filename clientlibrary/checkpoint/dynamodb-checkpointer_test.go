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
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"

	cfg "github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	par "github.com/vmware/vmware-go-streamtrigger/clientlibrary/partition"
)

func TestDoesTableExist(t *testing.T) {
	svc := &mockDynamoDB{tableExist: true, items: map[string]map[string]*dynamodb.AttributeValue{}}
	checkpoint := &DynamoCheckpoint{
		TableName: "TableName",
		svc:       svc,
	}
	exists, err := checkpoint.doesTableExist()
	assert.Nil(t, err)
	if !exists {
		t.Error("Table exists but returned false")
	}

	checkpoint.svc = &mockDynamoDB{tableExist: false}
	exists, err = checkpoint.doesTableExist()
	assert.Nil(t, err)
	if exists {
		t.Error("Table does not exist but returned true")
	}

	checkpoint.svc = &mockDynamoDB{describeErr: errors.New("access denied")}
	_, err = checkpoint.doesTableExist()
	assert.NotNil(t, err)
}

func TestInitCreatesMissingTable(t *testing.T) {
	svc := &mockDynamoDB{tableExist: false, items: map[string]map[string]*dynamodb.AttributeValue{}}
	checkpoint := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)

	assert.Nil(t, checkpoint.Init())
	assert.True(t, svc.tableCreated)
	assert.Equal(t, "appName", svc.createdTable)
}

func TestCheckpointRoundTrip(t *testing.T) {
	svc := &mockDynamoDB{tableExist: true, items: map[string]map[string]*dynamodb.AttributeValue{}}
	checkpoint := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)
	assert.Nil(t, checkpoint.Init())
	assert.False(t, svc.tableCreated)

	partition := par.NewPartitionStatus("shardId-000000000000")
	partition.ParentShardID = "shardId-000000000007"
	partition.SetResumeToken("49590338271490256608559692538361571095921575989136588898")
	assert.Nil(t, checkpoint.CheckpointSequence(partition))

	item := svc.items["shardId-000000000000"]
	assert.Equal(t, "shardId-000000000007", aws.StringValue(item[ParentShardIdKey].S))
	assert.NotEmpty(t, aws.StringValue(item[UpdatedAtKey].S))

	fresh := par.NewPartitionStatus("shardId-000000000000")
	assert.Nil(t, checkpoint.FetchCheckpoint(fresh))
	assert.Equal(t, "49590338271490256608559692538361571095921575989136588898", fresh.GetResumeToken())
}

func TestFetchCheckpointNotFound(t *testing.T) {
	svc := &mockDynamoDB{tableExist: true, items: map[string]map[string]*dynamodb.AttributeValue{}}
	checkpoint := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)

	err := checkpoint.FetchCheckpoint(par.NewPartitionStatus("shardId-000000000001"))
	assert.Equal(t, ErrSequenceIDNotFound, err)
}

func TestRemoveCheckpoint(t *testing.T) {
	svc := &mockDynamoDB{tableExist: true, items: map[string]map[string]*dynamodb.AttributeValue{}}
	checkpoint := NewDynamoCheckpoint(newTestConfig()).WithDynamoDB(svc)

	partition := par.NewPartitionStatus("shardId-000000000002")
	partition.SetResumeToken("1")
	assert.Nil(t, checkpoint.CheckpointSequence(partition))
	assert.Nil(t, checkpoint.RemoveCheckpoint("shardId-000000000002"))
	assert.Equal(t, ErrSequenceIDNotFound, checkpoint.FetchCheckpoint(partition))
}

func TestMemoryCheckpoint(t *testing.T) {
	checkpoint := NewMemoryCheckpoint()
	assert.Nil(t, checkpoint.Init())

	partition := par.NewPartitionStatus("https://sqs.us-west-2.amazonaws.com/123456789012/orders")
	assert.Equal(t, ErrSequenceIDNotFound, checkpoint.FetchCheckpoint(partition))

	partition.SetResumeToken("42")
	assert.Nil(t, checkpoint.CheckpointSequence(partition))

	fresh := par.NewPartitionStatus(partition.ID)
	assert.Nil(t, checkpoint.FetchCheckpoint(fresh))
	assert.Equal(t, "42", fresh.GetResumeToken())

	assert.Nil(t, checkpoint.RemoveCheckpoint(partition.ID))
	assert.Equal(t, ErrSequenceIDNotFound, checkpoint.FetchCheckpoint(fresh))
}

func newTestConfig() *cfg.TriggerConfiguration {
	return cfg.NewKinesisTriggerConfig("appName", "test", "us-west-2").
		WithInitialPositionInStream(cfg.LATEST)
}

type mockDynamoDB struct {
	dynamodbiface.DynamoDBAPI
	tableExist   bool
	describeErr  error
	tableCreated bool
	createdTable string
	items        map[string]map[string]*dynamodb.AttributeValue
}

func (m *mockDynamoDB) DescribeTable(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	if !m.tableExist {
		return &dynamodb.DescribeTableOutput{}, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "doesNotExist", errors.New(""))
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func (m *mockDynamoDB) CreateTable(input *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	m.tableCreated = true
	m.createdTable = aws.StringValue(input.TableName)
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockDynamoDB) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.items[aws.StringValue(input.Item[PartitionKeyKey].S)] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDB) GetItem(input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{
		Item: m.items[aws.StringValue(input.Key[PartitionKeyKey].S)],
	}, nil
}

func (m *mockDynamoDB) DeleteItem(input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	delete(m.items, aws.StringValue(input.Key[PartitionKeyKey].S))
	return &dynamodb.DeleteItemOutput{}, nil
}
