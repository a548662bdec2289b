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
// Package metrics defines how the triggers report what they do. Every method takes the partition the
// observation belongs to: a shard id, or the queue url for SQS.
package metrics

// MonitoringService publishes trigger metrics. Implementations must be safe for concurrent use since every
// subscriber reports on its own goroutine.
type MonitoringService interface {
	// Init is called once when the trigger starts. source is the stream name or queue url.
	Init(appName, source, workerID string) error
	Start() error
	// IncrRecordsProcessed counts records handed to the host.
	IncrRecordsProcessed(partition string, count int)
	IncrBytesProcessed(partition string, count int64)
	MillisBehindLatest(partition string, millis float64)
	// SubscriptionStarted and SubscriptionEnded bracket every subscription session.
	SubscriptionStarted(partition string)
	SubscriptionEnded(partition string)
	// Resubscribed counts reopened sessions. A steadily growing value points at a partition that keeps failing.
	Resubscribed(partition string)
	// RecordDropped counts records that could not be normalized.
	RecordDropped(partition string)
	// AcknowledgeFailed counts SQS deletes that failed; those messages will be delivered again.
	AcknowledgeFailed(partition string)
	RecordGetRecordsTime(partition string, millis float64)
	RecordProcessRecordsTime(partition string, millis float64)
	Shutdown()
}

// NoopMonitoringService implements MonitoringService by doing nothing.
type NoopMonitoringService struct{}

func (NoopMonitoringService) Init(appName, source, workerID string) error { return nil }
func (NoopMonitoringService) Start() error                                { return nil }
func (NoopMonitoringService) Shutdown()                                   {}

func (NoopMonitoringService) IncrRecordsProcessed(partition string, count int)          {}
func (NoopMonitoringService) IncrBytesProcessed(partition string, count int64)          {}
func (NoopMonitoringService) MillisBehindLatest(partition string, millis float64)       {}
func (NoopMonitoringService) SubscriptionStarted(partition string)                      {}
func (NoopMonitoringService) SubscriptionEnded(partition string)                        {}
func (NoopMonitoringService) Resubscribed(partition string)                             {}
func (NoopMonitoringService) RecordDropped(partition string)                            {}
func (NoopMonitoringService) AcknowledgeFailed(partition string)                        {}
func (NoopMonitoringService) RecordGetRecordsTime(partition string, millis float64)     {}
func (NoopMonitoringService) RecordProcessRecordsTime(partition string, millis float64) {}
