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
package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"

	chk "github.com/vmware/vmware-go-streamtrigger/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
)

const (
	streamName  = "orders"
	regionName  = "us-west-2"
	consumerARN = "arn:aws:kinesis:us-west-2:123456789012:stream/orders/consumer/orders-trigger:1"
	queueURL    = "https://sqs.us-west-2.amazonaws.com/123456789012/orders"
)

func canceled(ctx context.Context) error {
	return awserr.New(request.CanceledErrorCode, "request context canceled", ctx.Err())
}

func shard(id string) *kinesis.Shard {
	return &kinesis.Shard{
		ShardId:             aws.String(id),
		SequenceNumberRange: &kinesis.SequenceNumberRange{StartingSequenceNumber: aws.String("0")},
	}
}

func record(seq, data string) *kinesis.Record {
	return &kinesis.Record{
		Data:           []byte(data),
		PartitionKey:   aws.String("pk"),
		SequenceNumber: aws.String(seq),
	}
}

// event builds a SubscribeToShardEvent. An empty continuation marks the end of the shard.
func event(continuation string, records ...*kinesis.Record) *kinesis.SubscribeToShardEvent {
	e := &kinesis.SubscribeToShardEvent{
		Records:            records,
		MillisBehindLatest: aws.Int64(0),
	}
	if continuation != "" {
		e.ContinuationSequenceNumber = aws.String(continuation)
	}
	return e
}

// fakeStream is a scripted event stream. A completed stream closes its events channel after the scripted
// events, an open one blocks until closed by the subscriber.
type fakeStream struct {
	events    chan kinesis.SubscribeToShardEventStreamEvent
	err       error
	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

func newFakeStream(completed bool, err error, events ...*kinesis.SubscribeToShardEvent) *fakeStream {
	s := &fakeStream{
		events: make(chan kinesis.SubscribeToShardEventStreamEvent, len(events)),
		err:    err,
		closed: make(chan struct{}),
	}
	for _, e := range events {
		s.events <- e
	}
	if completed {
		close(s.events)
	}
	return s
}

func (s *fakeStream) Events() <-chan kinesis.SubscribeToShardEventStreamEvent {
	return s.events
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *fakeStream) Err() error {
	return s.err
}

// mockKinesis scripts ListShards, SubscribeToShard and the consumer APIs. Sessions are handed out per
// shard in order; once a shard has no scripted session left it gets an open, empty stream.
type mockKinesis struct {
	kinesisiface.KinesisAPI

	mux sync.Mutex

	listings  [][]*kinesis.Shard
	listCalls int
	listErr   error
	pageSize  int

	sessions     map[string][]*fakeStream
	streams      map[*kinesis.SubscribeToShardOutput]*fakeStream
	subscribes   map[string][]*kinesis.SubscribeToShardInput
	active       map[string]int
	maxActive    map[string]int
	subscribeErr map[string][]error

	consumerStatus  string
	consumerMissing bool
	registered      int
	registerStatus  string

	// polling
	pages          map[string][]*kinesis.GetRecordsOutput
	iteratorInputs []*kinesis.GetShardIteratorInput
	recordsInputs  []*kinesis.GetRecordsInput
	iterators      int
	throttle       map[string]int
	expire         map[string]int
}

func newMockKinesis(listings ...[]*kinesis.Shard) *mockKinesis {
	return &mockKinesis{
		listings:     listings,
		sessions:     make(map[string][]*fakeStream),
		streams:      make(map[*kinesis.SubscribeToShardOutput]*fakeStream),
		subscribes:   make(map[string][]*kinesis.SubscribeToShardInput),
		active:       make(map[string]int),
		maxActive:    make(map[string]int),
		subscribeErr: make(map[string][]error),
		pages:        make(map[string][]*kinesis.GetRecordsOutput),
		throttle:     make(map[string]int),
		expire:       make(map[string]int),
	}
}

func (m *mockKinesis) script(shardID string, streams ...*fakeStream) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.sessions[shardID] = append(m.sessions[shardID], streams...)
}

func (m *mockKinesis) ListShardsWithContext(ctx aws.Context, input *kinesis.ListShardsInput, opts ...request.Option) (*kinesis.ListShardsOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	if input.NextToken != nil && input.StreamName != nil {
		return nil, awserr.New(kinesis.ErrCodeInvalidArgumentException, "NextToken and StreamName cannot be provided together", nil)
	}

	listing := m.listings[len(m.listings)-1]
	if m.listCalls < len(m.listings) {
		listing = m.listings[m.listCalls]
	}

	offset := 0
	if input.NextToken != nil {
		offset, _ = strconv.Atoi(*input.NextToken)
	} else {
		m.listCalls++
	}

	if m.pageSize == 0 || offset+m.pageSize >= len(listing) {
		return &kinesis.ListShardsOutput{Shards: listing[offset:]}, nil
	}
	return &kinesis.ListShardsOutput{
		Shards:    listing[offset : offset+m.pageSize],
		NextToken: aws.String(strconv.Itoa(offset + m.pageSize)),
	}, nil
}

func (m *mockKinesis) SubscribeToShardWithContext(ctx aws.Context, input *kinesis.SubscribeToShardInput, opts ...request.Option) (*kinesis.SubscribeToShardOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}

	id := aws.StringValue(input.ShardId)
	m.subscribes[id] = append(m.subscribes[id], input)

	if errs := m.subscribeErr[id]; len(errs) > 0 {
		m.subscribeErr[id] = errs[1:]
		return nil, errs[0]
	}

	var stream *fakeStream
	if scripted := m.sessions[id]; len(scripted) > 0 {
		stream = scripted[0]
		m.sessions[id] = scripted[1:]
	} else {
		stream = newFakeStream(false, nil)
	}

	m.active[id]++
	if m.active[id] > m.maxActive[id] {
		m.maxActive[id] = m.active[id]
	}
	stream.onClose = func() {
		m.mux.Lock()
		defer m.mux.Unlock()
		m.active[id]--
	}

	out := &kinesis.SubscribeToShardOutput{}
	m.streams[out] = stream
	return out, nil
}

func (m *mockKinesis) extract(out *kinesis.SubscribeToShardOutput) eventStream {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.streams[out]
}

func (m *mockKinesis) subscriptions(shardID string) []*kinesis.SubscribeToShardInput {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]*kinesis.SubscribeToShardInput(nil), m.subscribes[shardID]...)
}

func (m *mockKinesis) activeSessions(shardID string) int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.active[shardID]
}

func (m *mockKinesis) maxActiveSessions(shardID string) int {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.maxActive[shardID]
}

func (m *mockKinesis) DescribeStreamWithContext(ctx aws.Context, input *kinesis.DescribeStreamInput, opts ...request.Option) (*kinesis.DescribeStreamOutput, error) {
	return &kinesis.DescribeStreamOutput{
		StreamDescription: &kinesis.StreamDescription{
			StreamName: input.StreamName,
			StreamARN:  aws.String("arn:aws:kinesis:us-west-2:123456789012:stream/" + aws.StringValue(input.StreamName)),
		},
	}, nil
}

func (m *mockKinesis) DescribeStreamConsumerWithContext(ctx aws.Context, input *kinesis.DescribeStreamConsumerInput, opts ...request.Option) (*kinesis.DescribeStreamConsumerOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.consumerMissing {
		return nil, awserr.New(kinesis.ErrCodeResourceNotFoundException, "consumer not found", nil)
	}
	return &kinesis.DescribeStreamConsumerOutput{
		ConsumerDescription: &kinesis.ConsumerDescription{
			ConsumerARN:    aws.String(consumerARN),
			ConsumerName:   input.ConsumerName,
			ConsumerStatus: aws.String(m.consumerStatus),
		},
	}, nil
}

func (m *mockKinesis) RegisterStreamConsumerWithContext(ctx aws.Context, input *kinesis.RegisterStreamConsumerInput, opts ...request.Option) (*kinesis.RegisterStreamConsumerOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	m.registered++
	m.consumerMissing = false
	return &kinesis.RegisterStreamConsumerOutput{
		Consumer: &kinesis.Consumer{
			ConsumerARN:    aws.String(consumerARN),
			ConsumerName:   input.ConsumerName,
			ConsumerStatus: aws.String(m.registerStatus),
		},
	}, nil
}

// pollPages scripts the GetRecords responses of a shard. The shard iterator encodes shard id and page.
func (m *mockKinesis) pollPages(shardID string, pages ...*kinesis.GetRecordsOutput) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.pages[shardID] = append(m.pages[shardID], pages...)
}

func (m *mockKinesis) GetShardIteratorWithContext(ctx aws.Context, input *kinesis.GetShardIteratorInput, opts ...request.Option) (*kinesis.GetShardIteratorOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	m.iteratorInputs = append(m.iteratorInputs, input)
	return &kinesis.GetShardIteratorOutput{ShardIterator: m.newIterator(aws.StringValue(input.ShardId))}, nil
}

// newIterator returns a unique iterator of the shard, "<shard id>|<n>".
func (m *mockKinesis) newIterator(shardID string) *string {
	m.iterators++
	return aws.String(shardID + "|" + strconv.Itoa(m.iterators))
}

// readIterators returns the iterators GetRecords was called with for a shard, in order.
func (m *mockKinesis) readIterators(shardID string) []string {
	m.mux.Lock()
	defer m.mux.Unlock()

	var iterators []string
	for _, in := range m.recordsInputs {
		if it := aws.StringValue(in.ShardIterator); strings.HasPrefix(it, shardID+"|") {
			iterators = append(iterators, it)
		}
	}
	return iterators
}

func (m *mockKinesis) iteratorRequests(shardID string) []*kinesis.GetShardIteratorInput {
	m.mux.Lock()
	defer m.mux.Unlock()

	var inputs []*kinesis.GetShardIteratorInput
	for _, in := range m.iteratorInputs {
		if aws.StringValue(in.ShardId) == shardID {
			inputs = append(inputs, in)
		}
	}
	return inputs
}

// GetRecordsWithContext serves the scripted pages in order, honoring Limit. Pages are consumed, so a
// rejected batch is not served again; the tests check the iterators used instead. Once the pages
// are used up the shard is caught up.
func (m *mockKinesis) GetRecordsWithContext(ctx aws.Context, input *kinesis.GetRecordsInput, opts ...request.Option) (*kinesis.GetRecordsOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	m.recordsInputs = append(m.recordsInputs, input)
	id := strings.SplitN(aws.StringValue(input.ShardIterator), "|", 2)[0]
	if m.throttle[id] > 0 {
		m.throttle[id]--
		return nil, awserr.New(kinesis.ErrCodeProvisionedThroughputExceededException, "slow down", nil)
	}
	if m.expire[id] > 0 {
		m.expire[id]--
		return nil, awserr.New(kinesis.ErrCodeExpiredIteratorException, "iterator expired", nil)
	}

	next := m.newIterator(id)
	pages := m.pages[id]
	if len(pages) == 0 {
		return &kinesis.GetRecordsOutput{NextShardIterator: next, MillisBehindLatest: aws.Int64(0)}, nil
	}

	scripted := pages[0]
	limit := int(aws.Int64Value(input.Limit))
	if limit > 0 && len(scripted.Records) > limit {
		served := &kinesis.GetRecordsOutput{
			Records:            scripted.Records[:limit],
			NextShardIterator:  next,
			MillisBehindLatest: aws.Int64(1000),
		}
		m.pages[id][0] = &kinesis.GetRecordsOutput{
			Records:            scripted.Records[limit:],
			NextShardIterator:  scripted.NextShardIterator,
			MillisBehindLatest: scripted.MillisBehindLatest,
		}
		return served, nil
	}

	m.pages[id] = pages[1:]
	out := *scripted
	if out.NextShardIterator != nil {
		out.NextShardIterator = next
	}
	return &out, nil
}

// page builds a GetRecords response. ended marks the last page of a closed shard.
func page(ended bool, records ...*kinesis.Record) *kinesis.GetRecordsOutput {
	out := &kinesis.GetRecordsOutput{
		Records:            records,
		MillisBehindLatest: aws.Int64(0),
	}
	if !ended {
		out.NextShardIterator = aws.String("next")
	}
	return out
}

// mockSQS scripts ReceiveMessage responses. Once they are used up a receive waits briefly and returns
// nothing, like a long poll on an empty queue.
type mockSQS struct {
	sqsiface.SQSAPI

	mux       sync.Mutex
	responses []*sqs.ReceiveMessageOutput
	errs      []error
	receives  []*sqs.ReceiveMessageInput

	deleted      []string
	deleteErr    error
	batchDeletes []*sqs.DeleteMessageBatchInput
	failedIDs    map[string]bool
}

func newMockSQS(responses ...*sqs.ReceiveMessageOutput) *mockSQS {
	return &mockSQS{responses: responses, failedIDs: make(map[string]bool)}
}

func (m *mockSQS) ReceiveMessageWithContext(ctx aws.Context, input *sqs.ReceiveMessageInput, opts ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	m.mux.Lock()
	m.receives = append(m.receives, input)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mux.Unlock()
		return nil, err
	}
	if len(m.responses) > 0 {
		out := m.responses[0]
		m.responses = m.responses[1:]
		m.mux.Unlock()
		return out, nil
	}
	m.mux.Unlock()

	select {
	case <-ctx.Done():
		return nil, canceled(ctx)
	case <-time.After(5 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (m *mockSQS) DeleteMessageWithContext(ctx aws.Context, input *sqs.DeleteMessageInput, opts ...request.Option) (*sqs.DeleteMessageOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deleted = append(m.deleted, aws.StringValue(input.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) DeleteMessageBatchWithContext(ctx aws.Context, input *sqs.DeleteMessageBatchInput, opts ...request.Option) (*sqs.DeleteMessageBatchOutput, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.batchDeletes = append(m.batchDeletes, input)

	out := &sqs.DeleteMessageBatchOutput{}
	for _, e := range input.Entries {
		handle := aws.StringValue(e.ReceiptHandle)
		if m.failedIDs[handle] {
			out.Failed = append(out.Failed, &sqs.BatchResultErrorEntry{
				Id:          e.Id,
				Code:        aws.String("ReceiptHandleIsInvalid"),
				Message:     aws.String("invalid receipt handle"),
				SenderFault: aws.Bool(true),
			})
			continue
		}
		m.deleted = append(m.deleted, handle)
		out.Successful = append(out.Successful, &sqs.DeleteMessageBatchResultEntry{Id: e.Id})
	}
	return out, nil
}

func (m *mockSQS) deletedHandles() []string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return append([]string(nil), m.deleted...)
}

func message(id, body string) *sqs.Message {
	return &sqs.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(body),
	}
}

func messages(msgs ...*sqs.Message) *sqs.ReceiveMessageOutput {
	return &sqs.ReceiveMessageOutput{Messages: msgs}
}

// countingMonitor counts the events the tests assert on.
type countingMonitor struct {
	metrics.NoopMonitoringService

	processed         int64
	dropped           int64
	resubscribed      int64
	acknowledgeFailed int64
	started           int64
	shutdowns         int64

	startErr error
}

func (c *countingMonitor) Start() error {
	atomic.AddInt64(&c.started, 1)
	return c.startErr
}

func (c *countingMonitor) Shutdown() {
	atomic.AddInt64(&c.shutdowns, 1)
}

func (c *countingMonitor) IncrRecordsProcessed(partition string, count int) {
	atomic.AddInt64(&c.processed, int64(count))
}

func (c *countingMonitor) RecordDropped(partition string) {
	atomic.AddInt64(&c.dropped, 1)
}

func (c *countingMonitor) Resubscribed(partition string) {
	atomic.AddInt64(&c.resubscribed, 1)
}

func (c *countingMonitor) AcknowledgeFailed(partition string) {
	atomic.AddInt64(&c.acknowledgeFailed, 1)
}

func (c *countingMonitor) count(field *int64) int64 {
	return atomic.LoadInt64(field)
}

// failingCheckpointer fails Init.
type failingCheckpointer struct {
	chk.Checkpointer
	err error
}

func (f *failingCheckpointer) Init() error {
	return f.err
}

// closeCounter counts client closes.
type closeCounter struct {
	closes int64
}

func (c *closeCounter) close() {
	atomic.AddInt64(&c.closes, 1)
}

func (c *closeCounter) count() int64 {
	return atomic.LoadInt64(&c.closes)
}

func shardIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("shardId-%012d", i)
	}
	return ids
}
