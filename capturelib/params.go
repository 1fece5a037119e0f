// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package capturelib

import (
	"fmt"
	"sync"
)

// UnsetLinktype marks a SharedParams whose linktype has not yet been fixed
// by any worker.
const UnsetLinktype = -1

// SharedParams is the process-wide capture state every worker negotiates
// against: a fixed snaplen and a linktype fixed by whichever worker opens
// its source first, grounded on the original's CaptureParams (an
// RLock-guarded linktype/snaplen pair). Safe for concurrent use.
type SharedParams struct {
	snaplen int

	mu       sync.Mutex
	linktype int
}

// NewSharedParams returns a SharedParams with an unset linktype.
func NewSharedParams(snaplen int) *SharedParams {
	return &SharedParams{snaplen: snaplen, linktype: UnsetLinktype}
}

// Snaplen returns the fixed snapshot length.
func (p *SharedParams) Snaplen() int { return p.snaplen }

// Linktype returns the negotiated linktype, or UnsetLinktype if no worker
// has negotiated one yet.
func (p *SharedParams) Linktype() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linktype
}

// LinktypeMismatch reports a worker's source having a different datalink
// than another source already fixed for this run (spec §4.4/§7).
type LinktypeMismatch struct {
	Got, Want int
}

func (e *LinktypeMismatch) Error() string {
	return fmt.Sprintf("linktype mismatch: source has %d, process already fixed to %d", e.Got, e.Want)
}

// Negotiate fixes linktype as the shared value if none is set yet, else
// requires it to match. Spec §4.4's LinktypeNegotiation state.
func (p *SharedParams) Negotiate(linktype int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.linktype == UnsetLinktype {
		p.linktype = linktype
		return nil
	}
	if p.linktype != linktype {
		return &LinktypeMismatch{Got: linktype, Want: p.linktype}
	}
	return nil
}
