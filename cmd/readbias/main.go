// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/readbias/aligner"
	"github.com/grailbio/readbias/readbias"
)

type cmdFlags struct {
	index          *string
	ioThreads      *int
	alignerThreads *int
	binSize        *int
	aligner        *string
	alignerArgs    *string
	fifo           *string
	out            *string
	unclassified   *bool
}

var fifoUsage = "If set, stream the aligner output through a named FIFO at this path " +
	"(e.g. " + aligner.DefaultFIFO + ") instead of an anonymous pipe."

func registerFlags(fs *flag.FlagSet) *cmdFlags {
	d := readbias.DefaultOpts
	return &cmdFlags{
		index:          fs.String("r", "", "Path prefix of the aligner index. Required."),
		ioThreads:      fs.Int("t", d.IOThreads, "Number of threads used to decompress the aligner output."),
		alignerThreads: fs.Int("h", d.AlignerThreads, "Number of threads passed to the aligner."),
		binSize:        fs.Int("b", d.BinSize, "Number of reads per reported window."),
		aligner:        fs.String("aligner", d.Aligner, "Aligner executable, looked up in PATH unless it contains a '/'."),
		alignerArgs:    fs.String("aligner-args", "", "Space separated extra arguments for the aligner."),
		fifo:           fs.String("fifo", "", fifoUsage),
		out:            fs.String("o", "-", "Output path. '-' is stdout. A .gz suffix writes BGZF-compressed output."),
		unclassified:   fs.Bool("unclassified", false, "Add a column counting reads whose flags fit no category."),
	}
}

// opts builds the run options from the parsed flags and the positional read
// files. Errors are of kind errors.Invalid.
func (f *cmdFlags) opts(args []string) (readbias.Opts, error) {
	o := readbias.DefaultOpts
	switch len(args) {
	case 1:
		o.Reads1 = args[0]
	case 2:
		o.Reads1, o.Reads2 = args[0], args[1]
	default:
		return o, errors.E(errors.Invalid, "expected one or two read files, got", len(args))
	}
	o.Index = *f.index
	o.IOThreads = *f.ioThreads
	o.AlignerThreads = *f.alignerThreads
	o.BinSize = *f.binSize
	o.Aligner = *f.aligner
	o.AlignerArgs = strings.Fields(*f.alignerArgs)
	o.FIFO = *f.fifo
	o.Unclassified = *f.unclassified
	return o, o.Validate()
}

func run(ctx context.Context, opts readbias.Opts, outPath string) (err error) {
	out, err := readbias.CreateOutput(ctx, outPath, opts.IOThreads)
	if err != nil {
		return err
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return readbias.Run(ctx, opts, out.Writer())
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	flags := registerFlags(flag.CommandLine)
	flag.Usage = func() {
		os.Stderr.WriteString(`Usage: readbias -r <index> [flags] reads1 [reads2]

Aligns the reads and reports mapping outcomes per window of reads. One read
file runs single-end, two run paired-end.

`)
		flag.PrintDefaults()
	}
	shutdown := grail.Init()
	defer shutdown()

	opts, err := flags.opts(flag.Args())
	if err != nil {
		log.Error.Printf("readbias: %v", err)
		flag.Usage()
		shutdown()
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(vcontext.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, opts, *flags.out)
	stop()
	if err != nil {
		log.Error.Printf("readbias: %v", err)
		shutdown()
		os.Exit(1)
	}
}
