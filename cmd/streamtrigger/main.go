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
// Command streamtrigger runs a stream trigger against a Kinesis stream or an SQS queue and prints every
// record it receives. The first interrupt stops the trigger and lets open sessions drain, the second
// one kills it.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	chk "github.com/vmware/vmware-go-streamtrigger/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics/cloudwatch"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/metrics/prometheus"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/utils"
	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/worker"
	"github.com/vmware/vmware-go-streamtrigger/logger"
	"github.com/vmware/vmware-go-streamtrigger/logger/zap"
	"github.com/vmware/vmware-go-streamtrigger/logger/zerolog"
)

type options struct {
	source          string
	mode            string
	app             string
	stream          string
	queueURL        string
	region          string
	endpoint        string
	consumerName    string
	consumerARN     string
	position        string
	serde           string
	shards          string
	checkpointTable string
	metrics         string
	metricsListen   string
	logger          string
	logFormat       string
	logLevel        string
	logFile         string
	pollInterval    int
	maxPerPoll      int
}

// trigger is what main needs from the realtime and polling triggers.
type trigger interface {
	Start() error
	Stop()
	Kill()
	Done() <-chan struct{}
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("streamtrigger", flag.ContinueOnError)
	fs.StringVar(&opts.source, "source", envOr("STREAMTRIGGER_SOURCE", "kinesis"), "Source: kinesis | sqs")
	fs.StringVar(&opts.mode, "mode", envOr("STREAMTRIGGER_MODE", "realtime"), "Mode: realtime | polling")
	fs.StringVar(&opts.app, "app", envOr("STREAMTRIGGER_APP", "streamtrigger"), "Application name, used for metrics and the default consumer name")
	fs.StringVar(&opts.stream, "stream", os.Getenv("STREAMTRIGGER_STREAM"), "Kinesis stream name")
	fs.StringVar(&opts.queueURL, "queue-url", os.Getenv("STREAMTRIGGER_QUEUE_URL"), "SQS queue url")
	fs.StringVar(&opts.region, "region", envOr("AWS_REGION", "us-west-2"), "AWS region")
	fs.StringVar(&opts.endpoint, "endpoint", os.Getenv("STREAMTRIGGER_ENDPOINT"), "Service endpoint override, e.g. a localstack url")
	fs.StringVar(&opts.consumerName, "consumer-name", "", "Enhanced fan-out consumer name, registered when missing (defaults to -app)")
	fs.StringVar(&opts.consumerARN, "consumer-arn", os.Getenv("STREAMTRIGGER_CONSUMER_ARN"), "Enhanced fan-out consumer ARN")
	fs.StringVar(&opts.position, "position", "", "Initial position: LATEST | TRIM_HORIZON (defaults to LATEST in realtime mode, TRIM_HORIZON in polling mode)")
	fs.StringVar(&opts.serde, "serde", "STRING", "Payload decoding: STRING | JSON")
	fs.StringVar(&opts.shards, "shards", "", "Comma separated shard ids to consume, all shards when empty")
	fs.StringVar(&opts.checkpointTable, "checkpoint-table", "", "DynamoDB table to resume from and record progress to (Kinesis only)")
	fs.StringVar(&opts.metrics, "metrics", "none", "Metrics: none | prometheus | cloudwatch")
	fs.StringVar(&opts.metricsListen, "metrics-listen", ":8080", "Listen address of the Prometheus endpoint")
	fs.StringVar(&opts.logger, "logger", "logrus", "Logger: logrus | zap | zerolog")
	fs.StringVar(&opts.logFormat, "log-format", "text", "Log format: text | json")
	fs.StringVar(&opts.logLevel, "log-level", logger.Info, "Log level")
	fs.StringVar(&opts.logFile, "log-file", "", "Also log to this file, rotated")
	fs.IntVar(&opts.pollInterval, "poll-interval", config.DefaultPollIntervalMillis, "Polling interval in milliseconds")
	fs.IntVar(&opts.maxPerPoll, "max-per-poll", config.DefaultMaxRecordsPerPoll, "Max records per polling cycle")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts.source = strings.ToLower(opts.source)
	opts.mode = strings.ToLower(opts.mode)
	if opts.consumerName == "" {
		opts.consumerName = opts.app
	}
	return opts, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(opts *options) logger.Logger {
	cfg := logger.Configuration{
		EnableConsole:     true,
		ConsoleJSONFormat: opts.logFormat == "json",
		ConsoleLevel:      opts.logLevel,
		EnableFile:        opts.logFile != "",
		FileJSONFormat:    true,
		FileLevel:         opts.logLevel,
		Filename:          opts.logFile,
	}

	switch opts.logger {
	case "zap":
		return zap.NewZapLoggerWithConfig(cfg)
	case "zerolog":
		return zerolog.NewZerologLoggerWithConfig(cfg)
	default:
		return logger.NewLogrusLoggerWithConfig(cfg)
	}
}

func newTriggerConfig(opts *options, log logger.Logger) (*config.TriggerConfiguration, error) {
	var cfg *config.TriggerConfiguration
	switch opts.source {
	case "kinesis":
		if opts.mode == "polling" {
			cfg = config.NewKinesisPollingConfig(opts.app, opts.stream, opts.region)
		} else {
			cfg = config.NewKinesisTriggerConfig(opts.app, opts.stream, opts.region)
		}
		if opts.position != "" {
			position, err := config.ParseInitialPositionInStream(opts.position)
			if err != nil {
				return nil, err
			}
			cfg.WithInitialPositionInStream(position)
		}
		if opts.consumerARN != "" {
			cfg.WithEnhancedFanOutConsumerARN(opts.consumerARN)
		} else {
			cfg.WithEnhancedFanOutConsumerName(opts.consumerName)
		}
		if opts.shards != "" {
			cfg.WithShardIDs(strings.Split(opts.shards, ",")...)
		}
		if opts.endpoint != "" {
			cfg.WithKinesisEndpoint(opts.endpoint).WithDynamoDBEndpoint(opts.endpoint)
		}
		if opts.checkpointTable != "" {
			cfg.WithTableName(opts.checkpointTable)
		}
	case "sqs":
		cfg = config.NewSQSTriggerConfig(opts.app, opts.queueURL, opts.region)
		if opts.endpoint != "" {
			cfg.WithSQSEndpoint(opts.endpoint)
		}
	default:
		return nil, &config.ValidationError{Field: "Source", Reason: fmt.Sprintf("unknown source %q", opts.source)}
	}

	cfg.WithSerdeType(config.SerdeType(strings.ToUpper(opts.serde))).
		WithWorkerID(utils.MustNewUUID()).
		WithLogger(log)

	if opts.mode == "polling" {
		cfg.WithPollIntervalMillis(opts.pollInterval).WithMaxRecordsPerPoll(opts.maxPerPoll)
	}

	switch opts.metrics {
	case "prometheus":
		cfg.WithMonitoringService(prometheus.NewMonitoringService(opts.metricsListen, opts.region, log))
	case "cloudwatch":
		cfg.WithMonitoringService(cloudwatch.NewMonitoringService(opts.region, nil, log))
	default:
		cfg.WithMonitoringService(metrics.NoopMonitoringService{})
	}
	return cfg, nil
}

// newTrigger builds the trigger for the selected source and mode. The returned function records the
// progress of every partition and is a no-op without a checkpoint table.
func newTrigger(cfg *config.TriggerConfiguration, opts *options, p *printer) (trigger, func()) {
	var checkpointer chk.Checkpointer
	if opts.source == "kinesis" && opts.checkpointTable != "" {
		checkpointer = chk.NewDynamoCheckpoint(cfg)
	}
	tracker := newProgress(checkpointer, cfg.Logger)

	switch {
	case opts.mode == "polling" && opts.source == "kinesis":
		poller := worker.NewKinesisPoller(cfg)
		if checkpointer != nil {
			poller.WithCheckpointer(checkpointer)
		}
		tracker.partition = poller.Partition
		processor := kcl.BatchProcessorFunc(func(batch *kcl.Batch) error {
			// The poller committed the previous batch before reading this one.
			tracker.recordAll(batch)
			return p.printBatch(batch)
		})
		return worker.NewPollingTrigger(cfg, poller, processor), tracker.flush

	case opts.mode == "polling":
		return worker.NewSQSPollingTrigger(cfg, kcl.BatchProcessorFunc(p.printBatch)), tracker.flush

	case opts.source == "kinesis":
		sink := worker.NewPushSink(kcl.RecordProcessorFunc(func(r *kcl.ConsumedRecord) error {
			// The resume token only covers records that were fully delivered.
			tracker.record(r.PartitionID)
			return p.printRecord(r)
		}))
		t := worker.NewKinesisTrigger(cfg, sink)
		if checkpointer != nil {
			t.WithCheckpointer(checkpointer)
		}
		tracker.partition = t.Partition
		return t, tracker.flush

	default:
		return worker.NewSQSTrigger(cfg, worker.NewPushSink(kcl.RecordProcessorFunc(p.printRecord))), tracker.flush
	}
}

func main() {
	// A missing .env file is fine.
	_ = godotenv.Load()

	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := newLogger(opts)
	cfg, err := newTriggerConfig(opts, log)
	if err != nil {
		color.Red("%v", err)
		os.Exit(2)
	}

	p := newPrinter(os.Stdout)
	t, flush := newTrigger(cfg, opts, p)

	source := opts.stream
	if opts.source == "sqs" {
		source = opts.queueURL
	}
	color.Green("Source: %s %s\nMode: %s\nWorker: %s", opts.source, source, opts.mode, cfg.WorkerID)

	if err := t.Start(); err != nil {
		color.Red("Failed to start trigger: %v", err)
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	stopped := false
	for {
		select {
		case <-t.Done():
			flush()
			color.Yellow("Trigger terminated after %d records.", p.count())
			return
		case sig := <-sigs:
			if !stopped {
				stopped = true
				color.Yellow("Received %v, draining. Interrupt again to abort.", sig)
				t.Stop()
				continue
			}
			color.Yellow("Received %v, aborting.", sig)
			t.Kill()
		}
	}
}
