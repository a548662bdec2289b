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
	"math"
	"time"

	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/matryer/try"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/utils"
)

const consumerARNMaxAttempts = 10

// fetchConsumerARNWithRetry tries to fetch consumer ARN. Retries 10 times with exponential backoff in case of an error
func (t *KinesisTrigger) fetchConsumerARNWithRetry(ctx context.Context) (string, error) {
	var consumerARN string
	err := try.Do(func(attempt int) (bool, error) {
		var err error
		consumerARN, err = t.fetchConsumerARN(ctx)
		if err == nil {
			return false, nil
		}
		if attempt >= consumerARNMaxAttempts || ctx.Err() != nil {
			return false, err
		}

		sleepDuration := time.Duration(math.Exp2(float64(attempt-1))*100) * time.Millisecond
		t.log.Errorf("Could not get consumer ARN: %v, retrying after: %s", err, sleepDuration)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleepDuration):
		}
		return true, err
	})
	return consumerARN, err
}

// fetchConsumerARN gets enhanced fan-out consumerARN.
// Registers enhanced fan-out consumer if the consumer is not found
func (t *KinesisTrigger) fetchConsumerARN(ctx context.Context) (string, error) {
	log := t.log
	consumerName := t.triggerConfig.EnhancedFanOutConsumerName

	log.Debugf("Fetching stream consumer ARN")
	streamDescription, err := t.kc.DescribeStreamWithContext(ctx, &kinesis.DescribeStreamInput{
		StreamName: &t.streamName,
	})
	if err != nil {
		log.Errorf("Could not describe stream: %v", err)
		return "", err
	}

	streamConsumerDescription, err := t.kc.DescribeStreamConsumerWithContext(ctx, &kinesis.DescribeStreamConsumerInput{
		ConsumerName: &consumerName,
		StreamARN:    streamDescription.StreamDescription.StreamARN,
	})
	if err == nil {
		status := *streamConsumerDescription.ConsumerDescription.ConsumerStatus
		log.Infof("Enhanced fan-out consumer found, consumer status: %s", status)
		if status != kinesis.ConsumerStatusActive {
			return "", fmt.Errorf("consumer is not in active status yet, current status: %s", status)
		}
		return *streamConsumerDescription.ConsumerDescription.ConsumerARN, nil
	}

	if utils.AWSErrCode(err) == kinesis.ErrCodeResourceNotFoundException {
		log.Infof("Enhanced fan-out consumer not found, registering new consumer with name: %s", consumerName)
		out, err := t.kc.RegisterStreamConsumerWithContext(ctx, &kinesis.RegisterStreamConsumerInput{
			ConsumerName: &consumerName,
			StreamARN:    streamDescription.StreamDescription.StreamARN,
		})
		if err != nil {
			log.Errorf("Could not register enhanced fan-out consumer: %v", err)
			return "", err
		}
		if *out.Consumer.ConsumerStatus != kinesis.ConsumerStatusActive {
			return "", fmt.Errorf("consumer is not in active status yet, current status: %s", *out.Consumer.ConsumerStatus)
		}
		return *out.Consumer.ConsumerARN, nil
	}

	log.Errorf("Could not describe stream consumer: %v", err)
	return "", err
}
