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
// Package prometheus publishes trigger metrics on a Prometheus scrape endpoint.
package prometheus

import (
	"context"
	"net/http"
	"regexp"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmware/vmware-go-streamtrigger/logger"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// MonitoringService publishes trigger metrics to Prometheus. Metrics live in their own registry so the
// trigger can run inside a service that already uses the default one.
type MonitoringService struct {
	listenAddress string
	namespace     string
	source        string
	workerID      string
	region        string
	logger        logger.Logger

	registry *prom.Registry
	server   *http.Server

	processedRecords    *prom.CounterVec
	processedBytes      *prom.CounterVec
	behindLatestSeconds *prom.GaugeVec
	activeSessions      *prom.GaugeVec
	resubscriptions     *prom.CounterVec
	droppedRecords      *prom.CounterVec
	failedAcks          *prom.CounterVec
	getRecordsTime      *prom.HistogramVec
	processRecordsTime  *prom.HistogramVec
}

// NewMonitoringService returns a Monitoring service publishing metrics to Prometheus.
// An empty listenAddress disables the HTTP endpoint; Handler can then be mounted by the caller.
func NewMonitoringService(listenAddress, region string, logger logger.Logger) *MonitoringService {
	return &MonitoringService{
		listenAddress: listenAddress,
		region:        region,
		logger:        logger,
		registry:      prom.NewRegistry(),
	}
}

func (p *MonitoringService) Init(appName, source, workerID string) error {
	p.namespace = invalidNameChars.ReplaceAllString(appName, "_")
	p.source = source
	p.workerID = workerID

	labels := []string{"source", "partition"}
	p.processedBytes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: p.namespace,
		Name:      "processed_bytes",
		Help:      "Number of bytes handed to the host",
	}, labels)
	p.processedRecords = prom.NewCounterVec(prom.CounterOpts{
		Namespace: p.namespace,
		Name:      "processed_records",
		Help:      "Number of records handed to the host",
	}, labels)
	p.behindLatestSeconds = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: p.namespace,
		Name:      "behind_latest_seconds",
		Help:      "The number of seconds processing is behind",
	}, labels)
	p.activeSessions = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: p.namespace,
		Name:      "active_sessions",
		Help:      "The number of open subscription sessions",
	}, []string{"source", "partition", "workerID"})
	p.resubscriptions = prom.NewCounterVec(prom.CounterOpts{
		Namespace: p.namespace,
		Name:      "resubscriptions",
		Help:      "The number of subscriptions reopened after a session ended",
	}, labels)
	p.droppedRecords = prom.NewCounterVec(prom.CounterOpts{
		Namespace: p.namespace,
		Name:      "dropped_records",
		Help:      "The number of records dropped because they could not be normalized",
	}, labels)
	p.failedAcks = prom.NewCounterVec(prom.CounterOpts{
		Namespace: p.namespace,
		Name:      "failed_acknowledgements",
		Help:      "The number of messages whose deletion failed",
	}, labels)
	p.getRecordsTime = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: p.namespace,
		Name:      "get_records_duration_seconds",
		Help:      "The time taken to fetch records",
	}, labels)
	p.processRecordsTime = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: p.namespace,
		Name:      "process_records_duration_seconds",
		Help:      "The time taken by the host to accept records",
	}, labels)

	metrics := []prom.Collector{
		p.processedBytes,
		p.processedRecords,
		p.behindLatestSeconds,
		p.activeSessions,
		p.resubscriptions,
		p.droppedRecords,
		p.failedAcks,
		p.getRecordsTime,
		p.processRecordsTime,
	}
	for _, metric := range metrics {
		if err := p.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// Handler serves the metrics of this service in the Prometheus exposition format.
func (p *MonitoringService) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *MonitoringService) Start() error {
	if p.listenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	p.server = &http.Server{Addr: p.listenAddress, Handler: mux}

	go func() {
		p.logger.Infof("Starting Prometheus listener on %s", p.listenAddress)
		err := p.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			p.logger.Errorf("Error starting Prometheus metrics endpoint. %+v", err)
		}
		p.logger.Infof("Stopped metrics server")
	}()

	return nil
}

func (p *MonitoringService) Shutdown() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Errorf("Error stopping Prometheus metrics endpoint. %+v", err)
	}
}

func (p *MonitoringService) IncrRecordsProcessed(partition string, count int) {
	p.processedRecords.With(p.labels(partition)).Add(float64(count))
}

func (p *MonitoringService) IncrBytesProcessed(partition string, count int64) {
	p.processedBytes.With(p.labels(partition)).Add(float64(count))
}

func (p *MonitoringService) MillisBehindLatest(partition string, millis float64) {
	p.behindLatestSeconds.With(p.labels(partition)).Set(millis / 1000)
}

func (p *MonitoringService) SubscriptionStarted(partition string) {
	p.activeSessions.With(prom.Labels{"partition": partition, "source": p.source, "workerID": p.workerID}).Inc()
}

func (p *MonitoringService) SubscriptionEnded(partition string) {
	p.activeSessions.With(prom.Labels{"partition": partition, "source": p.source, "workerID": p.workerID}).Dec()
}

func (p *MonitoringService) Resubscribed(partition string) {
	p.resubscriptions.With(p.labels(partition)).Inc()
}

func (p *MonitoringService) RecordDropped(partition string) {
	p.droppedRecords.With(p.labels(partition)).Inc()
}

func (p *MonitoringService) AcknowledgeFailed(partition string) {
	p.failedAcks.With(p.labels(partition)).Inc()
}

func (p *MonitoringService) RecordGetRecordsTime(partition string, millis float64) {
	p.getRecordsTime.With(p.labels(partition)).Observe(millis / 1000)
}

func (p *MonitoringService) RecordProcessRecordsTime(partition string, millis float64) {
	p.processRecordsTime.With(p.labels(partition)).Observe(millis / 1000)
}

func (p *MonitoringService) labels(partition string) prom.Labels {
	return prom.Labels{"partition": partition, "source": p.source}
}
