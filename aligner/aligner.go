// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package aligner runs an external short-read aligner (hisat2 by default) as
// a child process and exposes its SAM output as a stream.
//
// The output travels over an anonymous pipe unless Opts.FIFO names a path, in
// which case a named FIFO is created there and passed to the aligner with -S.
// Only one run may use a given FIFO path at a time.
package aligner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"golang.org/x/sys/unix"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// DefaultExecutable is the aligner run when Opts.Executable is empty.
const DefaultExecutable = "hisat2"

// DefaultFIFO is the well-known FIFO path, relative to the working directory.
const DefaultFIFO = "readbias.fifo"

const (
	stderrTailSize = 4 << 10
	// waitDelay bounds how long Wait blocks on the stderr copy after the
	// aligner itself has exited.
	waitDelay = 5 * time.Second
)

// Opts describes one aligner invocation.
type Opts struct {
	// Executable is the aligner name or path. Defaults to DefaultExecutable.
	Executable string
	// Index is the path prefix of the prebuilt aligner index.
	Index string
	// Threads is passed to the aligner as -p.
	Threads int
	// Reads1 is the single-end read file, or the first mates of a pair.
	Reads1 string
	// Reads2 is the second-mate read file. Empty for single-end input.
	Reads2 string
	// FIFO, if nonempty, is the path of a named FIFO to stream through.
	FIFO string
	// ExtraArgs are appended to the aligner command line.
	ExtraArgs []string
	// Stderr receives the aligner's standard error. Defaults to os.Stderr.
	Stderr io.Writer
}

// Args returns the aligner command line, excluding the executable.
func (o Opts) Args() []string {
	args := []string{"-p", strconv.Itoa(o.Threads), "-k", "1"}
	if o.FIFO != "" {
		args = append(args, "-S", o.FIFO)
	}
	args = append(args, "-x", o.Index)
	if o.Reads2 != "" {
		args = append(args, "-1", o.Reads1, "-2", o.Reads2)
	} else {
		args = append(args, "-U", o.Reads1)
	}
	args = append(args, "--reorder", "--no-temp-splicesite", "--mm", "--new-summary")
	return append(args, o.ExtraArgs...)
}

func (o Opts) executable() string {
	if o.Executable == "" {
		return DefaultExecutable
	}
	return o.Executable
}

// Process is a running aligner. Its methods must be called from a single
// goroutine.
type Process struct {
	name   string
	cmd    *exec.Cmd
	out    *os.File
	fifo   string
	stderr *tailBuffer

	done    chan struct{}
	waitErr error
	killed  bool
	closed  bool
}

// Start resolves the aligner executable, creates the output channel and starts
// the aligner. It does not wait for the aligner to produce output or exit.
// Cancelling ctx kills the aligner. On error, everything Start acquired has
// been released.
func Start(ctx context.Context, opts Opts) (*Process, error) {
	path, err := resolve(opts.executable())
	if err != nil {
		return nil, errors.E(errors.NotExist, err, "aligner executable", opts.executable())
	}
	p := &Process{
		name:   opts.executable(),
		fifo:   opts.FIFO,
		stderr: &tailBuffer{max: stderrTailSize},
		done:   make(chan struct{}),
	}
	cmd := exec.CommandContext(ctx, path, opts.Args()...)
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = io.MultiWriter(stderr, p.stderr)
	// The aligner may be a wrapper script; run it in its own process group so
	// that a kill reaches its children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = p.signalGroup
	cmd.WaitDelay = waitDelay
	p.cmd = cmd

	if p.fifo != "" {
		err = p.startFIFO()
	} else {
		err = p.startPipe()
	}
	if err != nil {
		if e := p.Kill(); e != nil {
			log.Error.Printf("aligner: %v", e)
		}
		if e := p.Close(); e != nil {
			log.Error.Printf("aligner: %v", e)
		}
		return nil, err
	}
	return p, nil
}

func resolve(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	return lookpath.Look(envvar.SliceToMap(os.Environ()), name)
}

func (p *Process) startPipe() error {
	r, w, err := os.Pipe()
	if err != nil {
		return errors.E(err, "create aligner pipe")
	}
	p.cmd.Stdout = w
	err = p.start()
	// The child holds its own copy of the write side.
	w.Close()
	if err != nil {
		r.Close()
		return err
	}
	p.out = r
	return nil
}

func (p *Process) startFIFO() error {
	if err := os.Remove(p.fifo); err != nil && !os.IsNotExist(err) {
		return errors.E(err, "remove stale fifo", p.fifo)
	}
	if err := unix.Mkfifo(p.fifo, 0600); err != nil {
		return errors.E(err, "create fifo", p.fifo)
	}
	if err := p.start(); err != nil {
		return err
	}
	opened := make(chan openResult, 1)
	go func() {
		f, err := os.Open(p.fifo)
		opened <- openResult{f, err}
	}()
	var res openResult
	select {
	case res = <-opened:
	case <-p.done:
		res = unblockOpen(p.fifo, opened)
	}
	if res.err != nil {
		return errors.E(res.err, "open fifo", p.fifo)
	}
	p.out = res.f
	return nil
}

type openResult struct {
	f   *os.File
	err error
}

// unblockOpen releases a reader blocked opening the FIFO after the aligner
// exited without ever opening the write side. The stream then reads as empty.
func unblockOpen(path string, opened <-chan openResult) openResult {
	for {
		if w, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			w.Close()
			return <-opened
		}
		// ENXIO: the reader has not reached open yet.
		select {
		case res := <-opened:
			return res
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (p *Process) start() error {
	if err := p.cmd.Start(); err != nil {
		close(p.done)
		p.waitErr = err
		return errors.E(err, "start", p.name)
	}
	log.Printf("aligner: started pid %d: %s", p.cmd.Process.Pid, p.String())
	go func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	}()
	return nil
}

// String returns the aligner command line.
func (p *Process) String() string {
	return strings.Join(append([]string{p.name}, p.cmd.Args[1:]...), " ")
}

// Reader returns the read side of the output channel.
func (p *Process) Reader() io.Reader { return p.out }

// Stderr returns the last few KiB the aligner wrote to its standard error.
func (p *Process) Stderr() string { return p.stderr.String() }

// Exited reports whether the aligner has exited, waiting at most grace for it
// to do so.
func (p *Process) Exited(grace time.Duration) bool {
	if grace <= 0 {
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}
	select {
	case <-p.done:
		return true
	case <-time.After(grace):
		return false
	}
}

// Wait blocks until the aligner exits and returns a non-nil error describing
// its exit status and the tail of its stderr if it failed. An aligner killed
// by Kill is not considered failed.
func (p *Process) Wait() error {
	<-p.done
	if p.waitErr == nil || p.killed {
		return nil
	}
	msg := fmt.Sprintf("aligner %s failed", p.name)
	if tail := strings.TrimSpace(p.Stderr()); tail != "" {
		msg += ", stderr:\n" + tail
	}
	return errors.E(p.waitErr, msg)
}

func (p *Process) signalGroup() error {
	return unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL)
}

// Kill force-terminates the aligner and its process group if it is still
// running, and reaps it. It is a no-op once the aligner has exited.
func (p *Process) Kill() error {
	if p.cmd.Process == nil || p.Exited(0) {
		return nil
	}
	p.killed = true
	err := p.signalGroup()
	if err == unix.ESRCH {
		err = nil
	}
	<-p.done
	if err != nil {
		return errors.E(err, "kill", p.name)
	}
	return nil
}

// Close closes the read side of the channel and removes the FIFO, if any.
// Close is idempotent.
func (p *Process) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	var e errors.Once
	if p.out != nil {
		e.Set(p.out.Close())
	}
	if p.fifo != "" {
		if err := os.Remove(p.fifo); err != nil && !os.IsNotExist(err) {
			e.Set(errors.E(err, "remove fifo", p.fifo))
		}
	}
	return e.Err()
}

// tailBuffer retains the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	if n := len(b.buf) - b.max; n > 0 {
		b.buf = append(b.buf[:0], b.buf[n:]...)
	}
	b.mu.Unlock()
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
