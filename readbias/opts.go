// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package readbias

import (
	"context"
	"io"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/readbias/aligner"
)

// Opts configures a run.
type Opts struct {
	// Index is the path prefix of the prebuilt aligner index. Required.
	Index string
	// Reads1 and Reads2 are the read files. Reads2 is empty for single-end
	// input. "-" is passed to the aligner as is.
	Reads1, Reads2 string
	// IOThreads is the number of BGZF decompression goroutines used on the
	// aligner output.
	IOThreads int
	// AlignerThreads is the thread count passed to the aligner.
	AlignerThreads int
	// BinSize is the number of records per reported window. In paired-end mode
	// only first mates are counted.
	BinSize int

	// Aligner is the aligner executable. Defaults to hisat2.
	Aligner string
	// AlignerArgs are extra arguments appended to the aligner command line.
	AlignerArgs []string
	// AlignerStderr receives the aligner's stderr. Defaults to os.Stderr.
	AlignerStderr io.Writer
	// FIFO, if set, streams the aligner output through a named FIFO at this
	// path instead of an anonymous pipe.
	FIFO string
	// Unclassified adds an unclassified column to the table.
	Unclassified bool
}

// DefaultOpts holds the default option values.
var DefaultOpts = Opts{
	IOThreads:      1,
	AlignerThreads: 4,
	BinSize:        1,
	Aligner:        aligner.DefaultExecutable,
}

// Mode returns PairedEnd iff a second read file is set.
func (o Opts) Mode() Mode {
	if o.Reads2 != "" {
		return PairedEnd
	}
	return SingleEnd
}

// Validate checks the options. Errors are of kind errors.Invalid.
func (o Opts) Validate() error {
	switch {
	case o.Index == "":
		return errors.E(errors.Invalid, "aligner index (-r) is required")
	case o.Reads1 == "":
		return errors.E(errors.Invalid, "at least one read file is required")
	case o.IOThreads < 1:
		return errors.E(errors.Invalid, "io threads (-t) must be at least 1")
	case o.AlignerThreads < 1:
		return errors.E(errors.Invalid, "aligner threads (-h) must be at least 1")
	case o.BinSize < 1:
		return errors.E(errors.Invalid, "bin size (-b) must be at least 1")
	case uint64(o.BinSize) > math.MaxUint32:
		return errors.E(errors.Invalid, "bin size (-b) is too large")
	}
	return nil
}

func (o Opts) alignerOpts() aligner.Opts {
	return aligner.Opts{
		Executable: o.Aligner,
		Index:      o.Index,
		Threads:    o.AlignerThreads,
		Reads1:     o.Reads1,
		Reads2:     o.Reads2,
		FIFO:       o.FIFO,
		ExtraArgs:  o.AlignerArgs,
		Stderr:     o.AlignerStderr,
	}
}

// checkInputs fails early when a read file does not exist, before any
// process or channel is created.
func checkInputs(ctx context.Context, o Opts) error {
	for _, path := range []string{o.Reads1, o.Reads2} {
		if path == "" || path == "-" {
			continue
		}
		if _, err := file.Stat(ctx, path); err != nil {
			return errors.E(err, "read file", path)
		}
	}
	return nil
}
