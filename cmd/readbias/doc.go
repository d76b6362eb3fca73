// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
readbias aligns a read set with hisat2 and reports, for consecutive windows of
reads, how many mapped, mapped badly or failed to map. Drift in these counts
along the file points at position dependent biases in the sequencing run.

Usage:

	readbias -r <index> [-t <io-threads>] [-h <aligner-threads>] [-b <bin-size>] reads1.fq [reads2.fq]

One read file selects single-end mode, two select paired-end mode. In
paired-end mode only first mates are counted, and a pair falls in exactly one
of map (proper pair), bad_map (both mates aligned, not as a proper pair),
unmap (neither mate aligned), r1_only or r2_only.

The table is written to stdout, or to the -o path, as:

	read	map	bad_map	unmap	r1_only	r2_only
	1000	981	3	12	2	2

where read is the number of reads counted so far. Reads past the last full
window are not reported.

By default the aligner output is read through an anonymous pipe. -fifo
readbias.fifo streams it through a named FIFO instead.
*/
package main
