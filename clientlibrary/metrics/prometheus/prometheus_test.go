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
package prometheus

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-streamtrigger/logger"
)

func newTestService(t *testing.T) *MonitoringService {
	p := NewMonitoringService("", "us-west-2", logger.GetDefaultLogger())
	require.Nil(t, p.Init("orders-trigger", "orders", "worker-1"))
	require.Nil(t, p.Start())
	return p
}

func TestCounters(t *testing.T) {
	p := newTestService(t)
	defer p.Shutdown()

	p.IncrRecordsProcessed("shardId-000000000000", 3)
	p.IncrRecordsProcessed("shardId-000000000000", 2)
	p.IncrBytesProcessed("shardId-000000000000", 128)
	p.Resubscribed("shardId-000000000001")
	p.RecordDropped("shardId-000000000001")
	p.AcknowledgeFailed("shardId-000000000001")

	assert.Equal(t, float64(5), testutil.ToFloat64(p.processedRecords.WithLabelValues("orders", "shardId-000000000000")))
	assert.Equal(t, float64(128), testutil.ToFloat64(p.processedBytes.WithLabelValues("orders", "shardId-000000000000")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.resubscriptions.WithLabelValues("orders", "shardId-000000000001")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.droppedRecords.WithLabelValues("orders", "shardId-000000000001")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.failedAcks.WithLabelValues("orders", "shardId-000000000001")))
}

func TestActiveSessions(t *testing.T) {
	p := newTestService(t)

	p.SubscriptionStarted("shardId-000000000000")
	p.SubscriptionStarted("shardId-000000000000")
	p.SubscriptionEnded("shardId-000000000000")
	p.MillisBehindLatest("shardId-000000000000", 1500)

	assert.Equal(t, float64(1), testutil.ToFloat64(p.activeSessions.WithLabelValues("orders", "shardId-000000000000", "worker-1")))
	assert.Equal(t, 1.5, testutil.ToFloat64(p.behindLatestSeconds.WithLabelValues("orders", "shardId-000000000000")))
}

func TestHandlerExposition(t *testing.T) {
	p := newTestService(t)
	p.IncrRecordsProcessed("shardId-000000000000", 7)
	p.RecordGetRecordsTime("shardId-000000000000", 250)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rec.Body)
	require.Nil(t, err)

	processed, ok := families["orders_trigger_processed_records"]
	require.True(t, ok)
	assert.Equal(t, float64(7), processed.GetMetric()[0].GetCounter().GetValue())

	histogram, ok := families["orders_trigger_get_records_duration_seconds"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), histogram.GetMetric()[0].GetHistogram().GetSampleCount())
}
