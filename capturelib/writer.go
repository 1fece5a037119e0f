// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package capturelib

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer appends packets to one pcap-format dump file, bound to a single
// (linktype, snaplen) pair for its whole lifetime (spec §4.5/§6). It is not
// safe for concurrent use; callers serialize writes themselves (the Dump
// File Registry does this with a per-writer mutex).
type Writer struct {
	file *os.File
	w    *pcapgo.Writer
}

// CreateWriter creates (or truncates) filename and writes its pcap file
// header for linktype/snaplen.
func CreateWriter(filename string, linktype int, snaplen int) (*Writer, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("creating dump file %s: %w", filename, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snaplen), layers.LinkType(linktype)); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing pcap header for %s: %w", filename, err)
	}
	return &Writer{file: f, w: w}, nil
}

// WritePacket appends one record.
func (dw *Writer) WritePacket(ci gopacket.CaptureInfo, data []byte) error {
	if err := dw.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (dw *Writer) Close() error {
	return dw.file.Close()
}

var _ io.Closer = (*Writer)(nil)
