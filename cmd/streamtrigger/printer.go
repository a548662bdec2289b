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
package main

import (
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"

	kcl "github.com/vmware/vmware-go-streamtrigger/clientlibrary/interfaces"
)

// printer renders records as a colored header line followed by the JSON encoded record.
type printer struct {
	mux     sync.Mutex
	out     io.Writer
	header  *color.Color
	printed int
}

type printedRecord struct {
	Source             kcl.SourceType    `json:"source"`
	PartitionID        string            `json:"partitionId"`
	PartitionKey       *string           `json:"partitionKey,omitempty"`
	Token              string            `json:"token"`
	MessageID          *string           `json:"messageId,omitempty"`
	ArrivedAt          *time.Time        `json:"arrivedAt,omitempty"`
	MillisBehindLatest *int64            `json:"millisBehindLatest,omitempty"`
	Attributes         map[string]string `json:"attributes,omitempty"`
	Value              interface{}       `json:"value"`
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, header: color.New(color.FgCyan, color.Bold)}
}

func (p *printer) printRecord(r *kcl.ConsumedRecord) error {
	body, err := json.MarshalIndent(&printedRecord{
		Source:             r.Source,
		PartitionID:        r.PartitionID,
		PartitionKey:       r.PartitionKey,
		Token:              r.Token,
		MessageID:          r.MessageID,
		ArrivedAt:          r.ApproximateArrivalTimestamp,
		MillisBehindLatest: r.MillisBehindLatest,
		Attributes:         r.Attributes,
		Value:              r.Value,
	}, "", "  ")
	if err != nil {
		return err
	}

	p.mux.Lock()
	defer p.mux.Unlock()

	p.printed++
	if _, err := p.header.Fprintf(p.out, "#%d %s %s\n", p.printed, r.PartitionID, r.Token); err != nil {
		return err
	}
	_, err = p.out.Write(append(body, '\n'))
	return err
}

func (p *printer) printBatch(batch *kcl.Batch) error {
	for _, r := range batch.Records {
		if err := p.printRecord(r); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) count() int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.printed
}
