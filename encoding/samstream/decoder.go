// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package samstream

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Format is the encoding of a record stream.
type Format int

const (
	// SAM is uncompressed SAM text.
	SAM Format = iota
	// GzipSAM is SAM text compressed with plain (non-blocked) gzip.
	GzipSAM
	// BGZFSAM is SAM text compressed with BGZF.
	BGZFSAM
	// BAM is the binary alignment format.
	BAM
)

var formatNames = [...]string{"SAM", "SAM.gz", "SAM.bgzf", "BAM"}

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return "unknown"
	}
	return formatNames[f]
}

const (
	// bgzfHeaderLen is the size of a BGZF block header up to and including
	// the BSIZE field.
	bgzfHeaderLen = 18
	// maxBlockSize is the largest possible BGZF block.
	maxBlockSize = 0x10000
)

var bamMagic = []byte("BAM\x01")

// Opts controls decoding.
type Opts struct {
	// Threads is the number of goroutines used to decompress BGZF blocks. Values
	// below one are treated as one. It has no effect on SAM and gzip streams.
	Threads int
}

// Decoder reads alignment records from a stream. It is not thread safe.
type Decoder struct {
	format Format
	header *sam.Header
	read   func() (*sam.Record, error)
	// closers are closed in order by Close. The decompression pool, if any, is
	// always last.
	closers []io.Closer
	n       int
	closed  bool
}

// NewDecoder detects the format of r, reads the header and returns a decoder
// positioned at the first record. An empty stream is valid and yields a
// decoder with an empty header that immediately reports io.EOF.
func NewDecoder(r io.Reader, opts Opts) (*Decoder, error) {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	br := bufio.NewReaderSize(r, maxBlockSize)
	if _, err := br.Peek(1); err == io.EOF {
		h, err := sam.NewHeader(nil, nil)
		if err != nil {
			return nil, err
		}
		return &Decoder{
			format: SAM,
			header: h,
			read:   func() (*sam.Record, error) { return nil, io.EOF },
		}, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read stream")
	}
	format, err := sniff(br)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("samstream: detected %v stream, %d decompression threads", format, threads)

	d := &Decoder{format: format}
	switch format {
	case BAM:
		bamr, err := bam.NewReader(br, threads)
		if err != nil {
			return nil, errors.Wrap(err, "read BAM header")
		}
		d.header = bamr.Header()
		d.read = bamr.Read
		d.closers = []io.Closer{bamr}
	case BGZFSAM:
		zr, err := bgzf.NewReader(br, threads)
		if err != nil {
			return nil, errors.Wrap(err, "open BGZF stream")
		}
		if err := d.openSAM(zr); err != nil {
			_ = zr.Close()
			return nil, err
		}
		d.closers = []io.Closer{zr}
	case GzipSAM:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		if err := d.openSAM(zr); err != nil {
			_ = zr.Close()
			return nil, err
		}
		d.closers = []io.Closer{zr}
	default:
		if err := d.openSAM(br); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Decoder) openSAM(r io.Reader) error {
	sr, err := sam.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "read SAM header")
	}
	d.header = sr.Header()
	d.read = sr.Read
	return nil
}

// sniff inspects the head of the stream without consuming it. A BGZF stream is
// told apart from a BAM stream by inflating its first block.
func sniff(br *bufio.Reader) (Format, error) {
	h, err := br.Peek(bgzfHeaderLen)
	if err != nil && err != io.EOF {
		return SAM, errors.Wrap(err, "read stream")
	}
	if len(h) < 2 || h[0] != 0x1f || h[1] != 0x8b {
		return SAM, nil
	}
	const fextra = 0x04
	if len(h) < bgzfHeaderLen || h[3]&fextra == 0 ||
		h[12] != 'B' || h[13] != 'C' || h[14] != 2 || h[15] != 0 {
		return GzipSAM, nil
	}
	blockSize := int(binary.LittleEndian.Uint16(h[16:])) + 1
	block, err := br.Peek(blockSize)
	if err != nil {
		return SAM, errors.Wrapf(err, "read first BGZF block (%d bytes)", blockSize)
	}
	zr, err := gzip.NewReader(bytes.NewReader(block))
	if err != nil {
		return SAM, errors.Wrap(err, "inflate first BGZF block")
	}
	magic := make([]byte, len(bamMagic))
	if _, err := io.ReadFull(zr, magic); err != nil {
		// An empty first block carries no magic. Let the SAM reader decide.
		return BGZFSAM, nil
	}
	if bytes.Equal(magic, bamMagic) {
		return BAM, nil
	}
	return BGZFSAM, nil
}

// Format returns the detected stream format.
func (d *Decoder) Format() Format { return d.format }

// Header returns the header read from the stream.
func (d *Decoder) Header() *sam.Header { return d.header }

// Read returns the next record. It returns io.EOF, unwrapped, at the clean end
// of the stream. Any other error means the stream is corrupt or truncated.
//
// The caller owns the returned record; it may be handed back with
// sam.PutInFreePool once inspected.
func (d *Decoder) Read() (*sam.Record, error) {
	if d.closed {
		return nil, errors.New("samstream: read after close")
	}
	rec, err := d.read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%v record %d", d.format, d.n)
	}
	d.n++
	return rec, nil
}

// NumRecords returns the number of records returned so far.
func (d *Decoder) NumRecords() int { return d.n }

// Close releases the readers and the decompression pool. It does not close
// the underlying stream. Close is idempotent and accepts a nil receiver.
func (d *Decoder) Close() error {
	if d == nil || d.closed {
		return nil
	}
	d.closed = true
	var firstErr error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.header = nil
	d.closers = nil
	return firstErr
}
