// Package sse turns an upstream byte stream into logical SSE lines.
//
// DESIGN: Two buffers carry state across chunk boundaries. Undecoded bytes
// hold an incomplete UTF-8 sequence until the rest of it arrives; decoded
// text holds an incomplete trailing line until its '\n' arrives. Splitting
// therefore never depends on where the network cut the stream.
//
// The pending line is searched from where the previous search stopped and
// only compacted after a line is taken, so a long line arriving in many small
// chunks costs linear time. A line longer than the configured maximum stops
// the reframer with ErrLineTooLong, the way bufio.Scanner does.
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// MaxLineSize is the default longest accepted line, in decoded bytes.
const MaxLineSize = 4 << 20

// ErrLineTooLong means a line exceeded the reframer's maximum size.
var ErrLineTooLong = errors.New("sse: line too long")

// Reframer is a push-style line splitter. Not safe for concurrent use.
type Reframer struct {
	decoder transform.Transformer
	raw     []byte
	text    []byte
	scanned int
	maxLine int
	dst     []byte
	err     error
}

// NewReframer creates a Reframer with a streaming UTF-8 decoder. Invalid
// byte sequences decode to U+FFFD.
func NewReframer() *Reframer {
	return &Reframer{
		decoder: unicode.UTF8.NewDecoder(),
		maxLine: MaxLineSize,
		dst:     make([]byte, 4096),
	}
}

// SetMaxLineSize changes the longest accepted line. Values <= 0 restore
// the default.
func (r *Reframer) SetMaxLineSize(n int) {
	if n <= 0 {
		n = MaxLineSize
	}
	r.maxLine = n
}

// Err returns the error that stopped the reframer, if any.
func (r *Reframer) Err() error { return r.err }

// Feed consumes one chunk and returns the logical lines it completed. After
// an error Feed discards its input.
func (r *Reframer) Feed(chunk []byte) []Line {
	if r.err != nil {
		return nil
	}
	r.raw = append(r.raw, chunk...)
	r.decode(false)
	return r.split(false)
}

// Flush ends the stream and returns any remaining partial line.
func (r *Reframer) Flush() []Line {
	if r.err != nil {
		return nil
	}
	r.decode(true)
	return r.split(true)
}

func (r *Reframer) decode(atEOF bool) {
	for len(r.raw) > 0 {
		nDst, nSrc, err := r.decoder.Transform(r.dst, r.raw, atEOF)
		r.text = append(r.text, r.dst[:nDst]...)
		r.raw = r.raw[nSrc:]
		switch {
		case err == nil:
			continue
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 {
				r.dst = make([]byte, len(r.dst)*2)
			}
			continue
		default:
			// ErrShortSrc: an incomplete sequence waits for the next chunk.
			if len(r.raw) > 0 {
				r.raw = append([]byte(nil), r.raw...)
			}
			return
		}
	}
	r.raw = r.raw[:0]
	if atEOF {
		r.decoder.Reset()
	}
}

func (r *Reframer) split(flush bool) []Line {
	var lines []Line
	start := 0
	for {
		idx := bytes.IndexByte(r.text[r.scanned:], '\n')
		if idx < 0 {
			r.scanned = len(r.text)
			break
		}
		end := r.scanned + idx
		if end-start > r.maxLine {
			return r.fail(lines)
		}
		if l, ok := Classify(string(r.text[start:end])); ok {
			lines = append(lines, l)
		}
		start = end + 1
		r.scanned = start
	}

	if len(r.text)-start > r.maxLine {
		return r.fail(lines)
	}
	if flush {
		if l, ok := Classify(string(r.text[start:])); ok {
			lines = append(lines, l)
		}
		start = len(r.text)
	}

	if start > 0 {
		n := copy(r.text, r.text[start:])
		r.text = r.text[:n]
		r.scanned -= start
	}
	return lines
}

// fail stops the reframer. Lines completed before the oversized one are
// still returned.
func (r *Reframer) fail(lines []Line) []Line {
	r.err = ErrLineTooLong
	r.text = nil
	r.raw = nil
	r.scanned = 0
	return lines
}

// =============================================================================
// PULL-STYLE SCANNING
// =============================================================================

// Scan reads r in chunks of chunkSize and calls fn for every logical line in
// order. It stops when fn returns false, when r is exhausted, or when ctx is
// done. A read error other than io.EOF is returned after the lines already
// completed have been delivered; the partial tail is discarded in that case.
// A line longer than MaxLineSize ends the scan with ErrLineTooLong.
func Scan(ctx context.Context, r io.Reader, chunkSize int, fn func(Line) bool) error {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	rf := NewReframer()
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, l := range rf.Feed(buf[:n]) {
				if !fn(l) {
					return nil
				}
			}
			if err := rf.Err(); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			for _, l := range rf.Flush() {
				if !fn(l) {
					return nil
				}
			}
			return rf.Err()
		}
		if err != nil {
			return err
		}
	}
}
