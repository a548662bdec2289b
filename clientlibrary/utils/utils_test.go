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
package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMustNewUUID(t *testing.T) {
	id := MustNewUUID()

	_, err := uuid.Parse(id)
	assert.Nil(t, err)
	assert.NotEqual(t, id, MustNewUUID())
}

func TestAWSErrCode(t *testing.T) {
	err := awserr.New(kinesis.ErrCodeResourceNotFoundException, "consumer not found", nil)

	assert.Equal(t, kinesis.ErrCodeResourceNotFoundException, AWSErrCode(err))
	assert.Equal(t, kinesis.ErrCodeResourceNotFoundException, AWSErrCode(fmt.Errorf("describe: %w", err)))
	assert.Equal(t, "", AWSErrCode(errors.New("plain")))
	assert.Equal(t, "", AWSErrCode(nil))
}

func TestIsCanceled(t *testing.T) {
	assert.True(t, IsCanceled(awserr.New(request.CanceledErrorCode, "request context canceled", nil)))
	assert.False(t, IsCanceled(errors.New("boom")))
}
