// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Binary file header of compressed checkpoints:
//
//	| 0 .. 16             | 17  | 18 .. 17+len |
//	| "gomlx_checkpoints" | len | "gzip"       |
//
// Files without the header hold the raw (uncompressed) variable values.
const (
	binHeader  = "gomlx_checkpoints"
	gzipHeader = "gzip"
)

// newBinReader returns a reader of the variable values stored in r, decompressing them if r
// starts with the compression header.
func newBinReader(r io.ReadSeeker) (io.Reader, error) {
	header := make([]byte, len(binHeader))
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "reading checkpoint header")
	}
	if n < len(binHeader) || string(header) != binHeader {
		if _, err = r.Seek(0, io.SeekStart); err != nil {
			return nil, errors.Wrap(err, "seeking back to start of uncompressed checkpoint")
		}
		return r, nil
	}
	var formatLen [1]byte
	if _, err = io.ReadFull(r, formatLen[:]); err != nil {
		return nil, errors.Wrap(err, "reading checkpoint header")
	}
	format := make([]byte, formatLen[0])
	if _, err = io.ReadFull(r, format); err != nil {
		return nil, errors.Wrap(err, "reading checkpoint header")
	}
	if string(format) != gzipHeader {
		return nil, errors.Wrapf(ErrUnsupportedCompression, "compression %q", format)
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading gzip header")
	}
	defer func() { _ = gz.Close() }()
	var buf bytes.Buffer
	if _, err = buf.ReadFrom(gz); err != nil {
		return nil, errors.Wrap(err, "decompressing checkpoint")
	}
	return &buf, nil
}

// binWriter writes the variable values. Close flushes and closes the underlying file.
type binWriter struct {
	f  *os.File
	w  *bufio.Writer
	gz *gzip.Writer
}

// Write implements io.Writer.
func (bw *binWriter) Write(p []byte) (int, error) {
	if bw.gz != nil {
		return bw.gz.Write(p)
	}
	return bw.w.Write(p)
}

// Close flushes all buffered data and closes the file.
func (bw *binWriter) Close() error {
	if bw.gz != nil {
		if err := bw.gz.Close(); err != nil {
			_ = bw.f.Close()
			return errors.Wrap(err, "closing gzip stream")
		}
	}
	if err := bw.w.Flush(); err != nil {
		_ = bw.f.Close()
		return errors.Wrap(err, "flushing checkpoint data")
	}
	return bw.f.Close()
}

// newBinWriter creates the file at filePath, writing the compression header if needed.
func newBinWriter(filePath string, bf BinFormat) (*binWriter, error) {
	f, err := os.Create(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "creating checkpoint data file")
	}
	bw := &binWriter{f: f, w: bufio.NewWriter(f)}
	if bf == BinUncompressed {
		return bw, nil
	}
	header := make([]byte, 0, len(binHeader)+1+len(gzipHeader))
	header = append(header, binHeader...)
	header = append(header, byte(len(gzipHeader)))
	header = append(header, gzipHeader...)
	if _, err = bw.w.Write(header); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "writing checkpoint header")
	}
	bw.gz = gzip.NewWriter(bw.w)
	return bw, nil
}
