// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package readbias

import (
	"bytes"
	"errors"
	"testing"

	"github.com/grailbio/readbias/encoding/samstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseNothingAcquired(t *testing.T) {
	var r resources
	assert.NoError(t, r.release())
	assert.NoError(t, r.release())
	err := errors.New("header")
	assert.Equal(t, err, r.diagnose(err))
}

func TestReleaseDecoderOnly(t *testing.T) {
	dec, err := samstream.NewDecoder(bytes.NewReader(nil), samstream.Opts{Threads: 2})
	require.NoError(t, err)
	r := resources{dec: dec}
	assert.NoError(t, r.release())
	assert.True(t, r.released)
	assert.NoError(t, r.release())
}
