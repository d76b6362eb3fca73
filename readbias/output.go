// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package readbias

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

// TSVSink writes the summary table: a header line, then one line per Row.
//
// The layout always has the six paired-end columns, so single-end tables carry
// zeros in bad_map, r1_only and r2_only. With unclassified set, a seventh
// column reports Unclassified.
type TSVSink struct {
	w            *tsv.Writer
	unclassified bool
}

var tableColumns = PairedEnd.Columns()

// NewTSVSink creates a sink writing to w.
func NewTSVSink(w io.Writer, unclassified bool) *TSVSink {
	return &TSVSink{w: tsv.NewWriter(w), unclassified: unclassified}
}

// WriteHeader writes the column names.
func (s *TSVSink) WriteHeader() error {
	s.w.WriteString("read")
	for _, c := range tableColumns {
		s.w.WriteString(c.String())
	}
	if s.unclassified {
		s.w.WriteString(Unclassified.String())
	}
	if err := s.w.EndLine(); err != nil {
		return err
	}
	return s.w.Flush()
}

// Write writes one row and flushes it, so that windows show up as soon as
// they complete.
func (s *TSVSink) Write(r Row) error {
	s.w.WriteString(strconv.FormatUint(r.Reads, 10))
	for _, c := range tableColumns {
		s.w.WriteUint32(uint32(r.Counts[c]))
	}
	if s.unclassified {
		s.w.WriteUint32(uint32(r.Counts[Unclassified]))
	}
	if err := s.w.EndLine(); err != nil {
		return err
	}
	return s.w.Flush()
}

// Output is the destination of the summary table: stdout, or a file opened
// through github.com/grailbio/base/file. Paths ending in ".gz" are written
// BGZF-compressed.
type Output struct {
	path string
	f    file.File
	bgzf *bgzf.Writer
	w    io.Writer
}

// CreateOutput opens path for writing. "" and "-" mean stdout. parallelism is
// the number of BGZF compression goroutines.
func CreateOutput(ctx context.Context, path string, parallelism int) (*Output, error) {
	if path == "" || path == "-" {
		return &Output{path: "-", w: os.Stdout}, nil
	}
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create output", path)
	}
	o := &Output{path: path, f: f, w: f.Writer(ctx)}
	if strings.HasSuffix(path, ".gz") {
		o.bgzf = bgzf.NewWriter(o.w, parallelism)
		o.w = o.bgzf
	}
	return o, nil
}

// Writer returns the writer for the table.
func (o *Output) Writer() io.Writer { return o.w }

// Close flushes and closes the output. Closing stdout is a no-op.
func (o *Output) Close(ctx context.Context) (err error) {
	if o.f == nil {
		return nil
	}
	if o.bgzf != nil {
		if err = o.bgzf.Close(); err != nil {
			err = errors.E(err, "close", o.path)
		}
	}
	file.CloseAndReport(ctx, o.f, &err)
	return err
}
