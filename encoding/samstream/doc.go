// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package samstream decodes a single, non-seekable stream of alignment records,
// such as the standard output of an aligner. The stream may be SAM text, BAM,
// BGZF-compressed SAM or plain gzip-compressed SAM; the format is detected from
// the first bytes of the stream.
//
// When the stream is BGZF-compressed, decompression is spread over a pool of
// Opts.Threads goroutines. Records are always returned in stream order.
package samstream
