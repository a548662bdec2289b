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
// Package cloudwatch publishes trigger metrics to Amazon CloudWatch.
package cloudwatch

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"github.com/vmware/vmware-go-streamtrigger/logger"
)

// DefaultResolutionSec is the buffering period of metrics before they are sent.
const DefaultResolutionSec = 60

// MonitoringService buffers metrics per partition and sends them to CloudWatch every resolution period and
// once more on Shutdown.
type MonitoringService struct {
	namespace   string
	source      string
	workerID    string
	region      string
	credentials *credentials.Credentials
	logger      logger.Logger

	// control how often to publish to CloudWatch
	resolution time.Duration

	svc cloudwatchiface.CloudWatchAPI

	mux     sync.Mutex
	metrics map[string]*cloudWatchMetrics

	stop      chan struct{}
	waitGroup sync.WaitGroup
}

type cloudWatchMetrics struct {
	processedRecords   int64
	processedBytes     int64
	behindLatestMillis []float64
	activeSessions     int64
	resubscriptions    int64
	droppedRecords     int64
	failedAcks         int64
	getRecordsTime     []float64
	processRecordsTime []float64
}

// NewMonitoringService returns a MonitoringService publishing to CloudWatch in region.
func NewMonitoringService(region string, creds *credentials.Credentials, logger logger.Logger) *MonitoringService {
	return NewMonitoringServiceWithOptions(region, creds, logger, DefaultResolutionSec)
}

// NewMonitoringServiceWithOptions returns a MonitoringService flushing every resolutionSec seconds.
func NewMonitoringServiceWithOptions(region string, creds *credentials.Credentials, logger logger.Logger, resolutionSec int) *MonitoringService {
	if resolutionSec <= 0 {
		resolutionSec = DefaultResolutionSec
	}
	return &MonitoringService{
		region:      region,
		credentials: creds,
		logger:      logger,
		resolution:  time.Duration(resolutionSec) * time.Second,
	}
}

// WithCloudWatch is used to provide CloudWatch service for either custom implementation or unit testing.
func (cw *MonitoringService) WithCloudWatch(svc cloudwatchiface.CloudWatchAPI) *MonitoringService {
	cw.svc = svc
	return cw
}

func (cw *MonitoringService) Init(appName, source, workerID string) error {
	cw.namespace = appName
	cw.source = source
	cw.workerID = workerID
	cw.metrics = make(map[string]*cloudWatchMetrics)
	cw.stop = make(chan struct{})

	if cw.svc != nil {
		return nil
	}

	s, err := session.NewSession(&aws.Config{
		Region:      aws.String(cw.region),
		Credentials: cw.credentials,
	})
	if err != nil {
		cw.logger.Errorf("Failed in getting CloudWatch session: %+v", err)
		return err
	}
	cw.svc = cloudwatch.New(s)
	return nil
}

func (cw *MonitoringService) Start() error {
	cw.waitGroup.Add(1)
	go func() {
		defer cw.waitGroup.Done()
		cw.eventLoop()
	}()
	return nil
}

// Shutdown stops the flush loop and sends what is still buffered.
func (cw *MonitoringService) Shutdown() {
	if cw.stop == nil {
		return
	}
	select {
	case <-cw.stop:
		return
	default:
	}
	close(cw.stop)
	cw.waitGroup.Wait()
	cw.flush()
}

func (cw *MonitoringService) eventLoop() {
	ticker := time.NewTicker(cw.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-cw.stop:
			return
		case <-ticker.C:
			cw.flush()
		}
	}
}

func (cw *MonitoringService) flush() {
	cw.mux.Lock()
	defer cw.mux.Unlock()

	for partition, metric := range cw.metrics {
		if err := cw.flushPartition(partition, metric); err != nil {
			cw.logger.Errorf("Error sending metrics of %s to CloudWatch: %+v", partition, err)
			continue
		}
		// active sessions is a level, everything else restarts from zero
		cw.metrics[partition] = &cloudWatchMetrics{activeSessions: metric.activeSessions}
	}
}

func (cw *MonitoringService) flushPartition(partition string, metric *cloudWatchMetrics) error {
	dimensions := []*cloudwatch.Dimension{
		{
			Name:  aws.String("Partition"),
			Value: aws.String(partition),
		},
		{
			Name:  aws.String("Source"),
			Value: aws.String(cw.source),
		},
	}
	workerDimensions := append([]*cloudwatch.Dimension{
		{
			Name:  aws.String("WorkerID"),
			Value: aws.String(cw.workerID),
		},
	}, dimensions...)

	now := time.Now()
	count := func(name string, value int64, dims []*cloudwatch.Dimension) *cloudwatch.MetricDatum {
		return &cloudwatch.MetricDatum{
			Dimensions: dims,
			MetricName: aws.String(name),
			Unit:       aws.String(cloudwatch.StandardUnitCount),
			Timestamp:  &now,
			Value:      aws.Float64(float64(value)),
		}
	}

	data := []*cloudwatch.MetricDatum{
		count("RecordsProcessed", metric.processedRecords, dimensions),
		{
			Dimensions: dimensions,
			MetricName: aws.String("DataBytesProcessed"),
			Unit:       aws.String(cloudwatch.StandardUnitBytes),
			Timestamp:  &now,
			Value:      aws.Float64(float64(metric.processedBytes)),
		},
		count("Resubscriptions", metric.resubscriptions, dimensions),
		count("DroppedRecords", metric.droppedRecords, dimensions),
		count("FailedAcknowledgements", metric.failedAcks, dimensions),
		count("ActiveSessions", metric.activeSessions, workerDimensions),
	}
	data = appendStatistics(data, "MillisBehindLatest", metric.behindLatestMillis, dimensions, now)
	data = appendStatistics(data, "GetRecords.Time", metric.getRecordsTime, dimensions, now)
	data = appendStatistics(data, "ProcessRecords.Time", metric.processRecordsTime, dimensions, now)

	_, err := cw.svc.PutMetricData(&cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.namespace),
		MetricData: data,
	})
	return err
}

// appendStatistics adds a statistic set for samples. CloudWatch rejects empty statistic sets.
func appendStatistics(data []*cloudwatch.MetricDatum, name string, samples []float64, dims []*cloudwatch.Dimension, ts time.Time) []*cloudwatch.MetricDatum {
	if len(samples) == 0 {
		return data
	}
	sum, min, max := samples[0], samples[0], samples[0]
	for _, v := range samples[1:] {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return append(data, &cloudwatch.MetricDatum{
		Dimensions: dims,
		MetricName: aws.String(name),
		Unit:       aws.String(cloudwatch.StandardUnitMilliseconds),
		Timestamp:  &ts,
		StatisticValues: &cloudwatch.StatisticSet{
			SampleCount: aws.Float64(float64(len(samples))),
			Sum:         aws.Float64(sum),
			Minimum:     aws.Float64(min),
			Maximum:     aws.Float64(max),
		},
	})
}

func (cw *MonitoringService) update(partition string, fn func(m *cloudWatchMetrics)) {
	cw.mux.Lock()
	defer cw.mux.Unlock()
	m, ok := cw.metrics[partition]
	if !ok {
		m = &cloudWatchMetrics{}
		cw.metrics[partition] = m
	}
	fn(m)
}

func (cw *MonitoringService) IncrRecordsProcessed(partition string, count int) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.processedRecords += int64(count) })
}

func (cw *MonitoringService) IncrBytesProcessed(partition string, count int64) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.processedBytes += count })
}

func (cw *MonitoringService) MillisBehindLatest(partition string, millis float64) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.behindLatestMillis = append(m.behindLatestMillis, millis) })
}

func (cw *MonitoringService) SubscriptionStarted(partition string) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.activeSessions++ })
}

func (cw *MonitoringService) SubscriptionEnded(partition string) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.activeSessions-- })
}

func (cw *MonitoringService) Resubscribed(partition string) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.resubscriptions++ })
}

func (cw *MonitoringService) RecordDropped(partition string) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.droppedRecords++ })
}

func (cw *MonitoringService) AcknowledgeFailed(partition string) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.failedAcks++ })
}

func (cw *MonitoringService) RecordGetRecordsTime(partition string, millis float64) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.getRecordsTime = append(m.getRecordsTime, millis) })
}

func (cw *MonitoringService) RecordProcessRecordsTime(partition string, millis float64) {
	cw.update(partition, func(m *cloudWatchMetrics) { m.processRecordsTime = append(m.processRecordsTime, millis) })
}
