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
package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLogrusLoggerWithConfig(t *testing.T) {
	config := Configuration{
		EnableConsole:     true,
		ConsoleLevel:      Debug,
		ConsoleJSONFormat: false,
		EnableFile:        true,
		FileLevel:         Info,
		FileJSONFormat:    true,
		Filename:          filepath.Join(t.TempDir(), "trigger.log"),
	}

	log := NewLogrusLoggerWithConfig(config)

	contextLogger := log.WithFields(Fields{"partition": "shardId-000000000000"})
	contextLogger.Debugf("Starting with logrus")
	contextLogger.Infof("Logrus is ready")
}

func TestLogrusLoggerWithFieldsAtInit(t *testing.T) {
	buf := &bytes.Buffer{}
	base := logrus.New()
	base.SetOutput(buf)
	base.SetFormatter(&logrus.JSONFormatter{})

	log := NewLogrusLogger(base.WithField("trigger", "kinesis"))
	log.WithFields(Fields{"partition": "shardId-000000000003"}).Warnf("dropping record %s", "49590338271490256608559692538361571095921575989136588898")

	assert.Contains(t, buf.String(), `"trigger":"kinesis"`)
	assert.Contains(t, buf.String(), `"partition":"shardId-000000000003"`)
	assert.Contains(t, buf.String(), `"level":"warning"`)
}

func TestNormalizeConfig(t *testing.T) {
	config := Configuration{MaxBackups: -1}
	NormalizeConfig(&config)

	assert.Equal(t, 100, config.MaxSizeMB)
	assert.Equal(t, 7, config.MaxAgeDays)
	assert.Equal(t, 0, config.MaxBackups)
}

func TestGetDefaultLogger(t *testing.T) {
	assert.NotNil(t, GetDefaultLogger())
}
