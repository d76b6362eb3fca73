// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/readbias/readbias"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (readbias.Opts, *cmdFlags, error) {
	fs := flag.NewFlagSet("readbias", flag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	flags := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return readbias.Opts{}, flags, err
	}
	opts, err := flags.opts(fs.Args())
	return opts, flags, err
}

func TestFlagsDefaults(t *testing.T) {
	opts, flags, err := parse(t, "-r", "idx", "r1.fq")
	require.NoError(t, err)
	assert.Equal(t, "idx", opts.Index)
	assert.Equal(t, "r1.fq", opts.Reads1)
	assert.Equal(t, "", opts.Reads2)
	assert.Equal(t, readbias.SingleEnd, opts.Mode())
	assert.Equal(t, 1, opts.IOThreads)
	assert.Equal(t, 4, opts.AlignerThreads)
	assert.Equal(t, 1, opts.BinSize)
	assert.Equal(t, "hisat2", opts.Aligner)
	assert.Equal(t, "", opts.FIFO)
	assert.Empty(t, opts.AlignerArgs)
	assert.False(t, opts.Unclassified)
	assert.Equal(t, "-", *flags.out)
}

func TestFlagsPairedEnd(t *testing.T) {
	opts, flags, err := parse(t,
		"-r", "idx", "-t", "3", "-h", "8", "-b", "1000",
		"-aligner", "/opt/hisat2", "-aligner-args", "--no-spliced-alignment  --trim5 3",
		"-fifo", "readbias.fifo", "-o", "out.tsv.gz", "-unclassified",
		"r1.fq", "r2.fq")
	require.NoError(t, err)
	assert.Equal(t, readbias.PairedEnd, opts.Mode())
	assert.Equal(t, "r2.fq", opts.Reads2)
	assert.Equal(t, 3, opts.IOThreads)
	assert.Equal(t, 8, opts.AlignerThreads)
	assert.Equal(t, 1000, opts.BinSize)
	assert.Equal(t, "/opt/hisat2", opts.Aligner)
	assert.Equal(t, []string{"--no-spliced-alignment", "--trim5", "3"}, opts.AlignerArgs)
	assert.Equal(t, "readbias.fifo", opts.FIFO)
	assert.True(t, opts.Unclassified)
	assert.Equal(t, "out.tsv.gz", *flags.out)
}

func TestFlagsUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-r", "idx"},
		{"-r", "idx", "a", "b", "c"},
		{"r1.fq"},
		{"-r", "idx", "-t", "0", "r1.fq"},
		{"-r", "idx", "-h", "0", "r1.fq"},
		{"-r", "idx", "-b", "0", "r1.fq"},
		{"-r", "idx", "-b", "-5", "r1.fq"},
	} {
		_, _, err := parse(t, args...)
		require.Error(t, err, "args %v", args)
		assert.True(t, errors.Is(errors.Invalid, err), "args %v: %v", args, err)
	}
	// Malformed numbers are rejected by the flag package.
	_, _, err := parse(t, "-r", "idx", "-t", "many", "r1.fq")
	assert.Error(t, err)
}

// A run that fails setup still leaves a closed, empty output behind and
// reports the error.
func TestRunMissingInput(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "readbias")
	defer cleanup()
	out := filepath.Join(dir, "out.tsv")
	opts := readbias.DefaultOpts
	opts.Index = "idx"
	opts.Reads1 = filepath.Join(dir, "missing.fq")
	opts.Aligner = "/bin/false"
	err := run(vcontext.Background(), opts, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.fq")
	data, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRunFakeAligner(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "readbias")
	defer cleanup()
	reads := filepath.Join(dir, "r1.fq")
	require.NoError(t, ioutil.WriteFile(reads, []byte("@r\nA\n+\nI\n"), 0644))
	sam := filepath.Join(dir, "aln.sam")
	require.NoError(t, ioutil.WriteFile(sam, []byte("@HD\tVN:1.6\n"+
		"r0\t0\t*\t0\t0\t*\t*\t0\t0\tA\tI\n"+
		"r1\t4\t*\t0\t0\t*\t*\t0\t0\tA\tI\n"), 0644))
	script := filepath.Join(dir, "aligner")
	require.NoError(t, ioutil.WriteFile(script, []byte("#!/bin/sh\nexec cat "+sam+"\n"), 0755))

	opts := readbias.DefaultOpts
	opts.Index = "idx"
	opts.Reads1 = reads
	opts.Aligner = script
	opts.BinSize = 2
	opts.AlignerStderr = ioutil.Discard
	out := filepath.Join(dir, "out.tsv")
	require.NoError(t, run(vcontext.Background(), opts, out))
	data, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "read\tmap\tbad_map\tunmap\tr1_only\tr2_only\n2\t1\t0\t1\t0\t0\n", string(data))
}
