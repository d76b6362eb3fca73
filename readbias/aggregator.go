// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package readbias

import (
	"strconv"
	"strings"
)

// Row is the summary of one completed window.
type Row struct {
	Mode Mode
	// Reads is the number of records observed since the start of the run,
	// including this window.
	Reads uint64
	// Counts holds the per-category counts of this window, indexed by
	// Category. Categories unused by Mode are zero.
	Counts [numCategories]int
}

// Columns returns the counts of Mode's categories, in column order.
func (r Row) Columns() []int {
	cats := r.Mode.Columns()
	cols := make([]int, len(cats))
	for i, c := range cats {
		cols[i] = r.Counts[c]
	}
	return cols
}

// Total returns the number of records counted in the window.
func (r Row) Total() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// String renders the row as tab-separated Reads followed by Columns.
func (r Row) String() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(r.Reads, 10))
	for _, c := range r.Columns() {
		b.WriteByte('\t')
		b.WriteString(strconv.Itoa(c))
	}
	return b.String()
}

// Aggregator counts categories over consecutive, non-overlapping windows of a
// fixed number of records. Each time a window fills, it is handed to the emit
// callback and the counts restart from zero. A trailing window that never
// fills is not emitted.
//
// Aggregator is not thread safe.
type Aggregator struct {
	mode    Mode
	binSize int
	emit    func(Row) error

	reads   uint64
	pending int
	counts  [numCategories]int
}

// NewAggregator creates an aggregator. binSize must be positive.
func NewAggregator(mode Mode, binSize int, emit func(Row) error) *Aggregator {
	if binSize <= 0 {
		panic("readbias: non-positive bin size")
	}
	return &Aggregator{mode: mode, binSize: binSize, emit: emit}
}

// Observe counts one record. It returns the error from emit, if a window was
// completed and emitting it failed.
func (a *Aggregator) Observe(c Category) error {
	a.counts[c]++
	a.reads++
	a.pending++
	if a.pending < a.binSize {
		return nil
	}
	row := Row{Mode: a.mode, Reads: a.reads, Counts: a.counts}
	a.counts = [numCategories]int{}
	a.pending = 0
	return a.emit(row)
}

// Reads returns the number of records observed so far.
func (a *Aggregator) Reads() uint64 { return a.reads }

// Pending returns the number of records observed since the last emitted
// window.
func (a *Aggregator) Pending() int { return a.pending }
