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
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/vmware/vmware-go-streamtrigger/clientlibrary/config"
)

// newSession creates the session shared by every subscriber of a trigger. The session gets its own HTTP
// client; closing its idle connections is how the trigger releases the client on teardown.
func newSession(triggerConfig *config.TriggerConfiguration, endpoint string) (*session.Session, *http.Client, error) {
	httpClient := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	s, err := session.NewSession(&aws.Config{
		Region:      aws.String(triggerConfig.RegionName),
		Endpoint:    aws.String(endpoint),
		Credentials: triggerConfig.Credentials,
		MaxRetries:  aws.Int(triggerConfig.ClientRetryMaxAttempts),
		HTTPClient:  httpClient,
	})
	if err != nil {
		return nil, nil, err
	}
	return s, httpClient, nil
}
