// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package readbias measures how read mapping outcomes drift along a
// sequencing run. It streams reads through an external aligner, classifies
// every alignment by its SAM flags and reports category counts over
// consecutive windows of records.
package readbias

import (
	"context"
	"io"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/readbias/aligner"
	"github.com/grailbio/readbias/encoding/samstream"
)

// statusGrace is how long a failed stream waits for the aligner to exit, so
// that its exit status can be reported.
const statusGrace = time.Second

// Run aligns the reads named in opts, classifies each alignment and writes the
// summary table to out. Rows are written as windows complete, so out may hold
// a partial table when Run fails.
//
// Run returns once the aligner has exited. Every process, channel and
// decoder it created is released on return, whatever the outcome.
func Run(ctx context.Context, opts Opts, out io.Writer) (err error) {
	if err = opts.Validate(); err != nil {
		return err
	}
	if err = checkInputs(ctx, opts); err != nil {
		return err
	}
	mode := opts.Mode()
	log.Printf("readbias: %v run, bin size %d, %d io threads", mode, opts.BinSize, opts.IOThreads)

	var res resources
	defer func() {
		if e := res.release(); e != nil {
			if err == nil {
				err = e
			} else {
				log.Error.Printf("readbias: teardown: %v", e)
			}
		}
	}()

	if res.proc, err = aligner.Start(ctx, opts.alignerOpts()); err != nil {
		return err
	}
	if res.dec, err = samstream.NewDecoder(res.proc.Reader(), samstream.Opts{Threads: opts.IOThreads}); err != nil {
		return res.diagnose(errors.E(err, "read alignment header"))
	}
	log.Printf("readbias: reading %v alignments against %d reference sequences",
		res.dec.Format(), len(res.dec.Header().Refs()))

	sink := NewTSVSink(out, opts.Unclassified)
	if err = sink.WriteHeader(); err != nil {
		return errors.E(err, "write table header")
	}
	windows := 0
	agg := NewAggregator(mode, opts.BinSize, func(row Row) error {
		if n := row.Counts[Unclassified]; n > 0 {
			log.Error.Printf("readbias: %d unclassified records in window ending at read %d", n, row.Reads)
		}
		windows++
		log.Debug.Printf("readbias: window %s", row)
		return sink.Write(row)
	})
	if err = consume(res.dec, agg, mode); err != nil {
		return res.diagnose(err)
	}
	if err = res.proc.Wait(); err != nil {
		return err
	}
	if n := agg.Pending(); n > 0 {
		log.Printf("readbias: last %d records do not fill a window of %d and are not reported", n, opts.BinSize)
	}
	log.Printf("readbias: %d alignment records read, %d counted, %d windows",
		res.dec.NumRecords(), agg.Reads(), windows)
	return nil
}

// consume feeds every record of the stream through Classify into agg.
func consume(dec *samstream.Decoder, agg *Aggregator, mode Mode) error {
	for {
		rec, err := dec.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.E(err, "read alignments")
		}
		c, ok := Classify(rec.Flags, mode)
		sam.PutInFreePool(rec)
		if !ok {
			continue
		}
		if err := agg.Observe(c); err != nil {
			return errors.E(err, "write table row")
		}
	}
}

// resources holds what a run acquires. release is safe on a partially set up
// run and runs at most once.
type resources struct {
	proc     *aligner.Process
	dec      *samstream.Decoder
	released bool
}

// release kills the aligner, closes the decoder together with its
// decompression pool, then closes and removes the channel. Each step runs even
// if an earlier one fails; the first error is returned.
func (r *resources) release() error {
	if r.released {
		return nil
	}
	r.released = true
	var e errors.Once
	if r.proc != nil {
		e.Set(r.proc.Kill())
	}
	e.Set(r.dec.Close())
	if r.proc != nil {
		e.Set(r.proc.Close())
	}
	return e.Err()
}

// diagnose adds the aligner's exit status to err if the aligner failed.
func (r *resources) diagnose(err error) error {
	if r.proc == nil || !r.proc.Exited(statusGrace) {
		return err
	}
	if status := r.proc.Wait(); status != nil {
		return errors.E(err, status.Error())
	}
	return err
}
