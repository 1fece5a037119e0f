// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package routetable implements the compiled routing structure described in
// spec §3 and §4.2: a three-level nested mapping from a packet's fingerprint
// to either a filename pattern or DROP.
package routetable

import "github.com/fasguard/fasguard-benign-traffic-collection/fingerprint"

// Leaf is a terminal routing decision: either Drop, or a non-empty Pattern
// filename template.
type Leaf struct {
	Drop    bool
	Pattern string
}

// PatternLeaf builds a non-DROP leaf.
func PatternLeaf(pattern string) *Leaf {
	return &Leaf{Pattern: pattern}
}

// DropLeaf builds a DROP leaf.
func DropLeaf() *Leaf {
	return &Leaf{Drop: true}
}

// Node is one level of the compiled table: either itself a terminal Leaf, or
// a defaulting map of children keyed by the next fingerprint component. Only
// one of Leaf or (Default, Children) is meaningful for a given Node: Leaf
// set means this node IS the routing decision and nothing descends further.
type Node struct {
	Leaf     *Leaf
	Default  *Leaf
	Children map[int]*Node
}

// Table is the compiled Route Table: the top-level Node, keyed by ethertype.
type Table struct {
	Node
}

// New returns an empty Route Table: every lookup misses until Routes are
// compiled into it.
func New() *Table {
	return &Table{}
}

// child returns (creating if necessary) the child Node for key.
func (n *Node) child(key int) *Node {
	if n.Children == nil {
		n.Children = make(map[int]*Node)
	}
	c, ok := n.Children[key]
	if !ok {
		c = &Node{}
		n.Children[key] = c
	}
	return c
}

// resolve descends one level: exact child key wins, else the node's default,
// else no match (nil, false).
func (n *Node) resolve(key int) (*Node, bool) {
	if n.Children != nil {
		if c, ok := n.Children[key]; ok {
			return c, true
		}
	}
	if n.Default != nil {
		return &Node{Leaf: n.Default}, true
	}
	return nil, false
}

// Lookup implements spec §4.2's three-step descent. A DROP leaf is returned
// distinguishably from "no match" via the ok return, but both have the same
// caller-visible effect (no write).
func Lookup(table *Table, fp fingerprint.Fingerprint) (leaf *Leaf, ok bool) {
	node, ok := table.Node.resolve(fp.Ethertype)
	if !ok {
		return nil, false
	}
	if node.Leaf != nil {
		return node.Leaf, true
	}
	if !fp.HasProto {
		return nil, false
	}
	node, ok = node.resolve(fp.Proto)
	if !ok {
		return nil, false
	}
	if node.Leaf != nil {
		return node.Leaf, true
	}
	if !fp.HasPort {
		// This is the Open Question #1 resolution (spec §9, choice b): an IP
		// fingerprint with no port component terminates here rather than
		// attempting a synthetic third descent.
		return nil, false
	}
	node, ok = node.resolve(fp.Port)
	if !ok {
		return nil, false
	}
	if node.Leaf != nil {
		return node.Leaf, true
	}
	// A node with neither a Leaf nor a resolvable next key at the deepest
	// level is unreachable for a well-formed table, but treat it as a miss
	// rather than panicking.
	return nil, false
}
