// Copyright (c) 2015 Raytheon BBN Technologies Corp.  All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package routecompiler turns the deserialized "outputs" configuration tree
// into a compiled routetable.Table, per spec §4.1.
package routecompiler

import (
	"fmt"
	"strconv"

	"github.com/fasguard/fasguard-benign-traffic-collection/fingerprint"
	"github.com/fasguard/fasguard-benign-traffic-collection/routetable"
)

// ConfigError reports a problem in the outputs configuration: an unknown
// symbolic name, an ill-formed match tuple, an out-of-place 'ip' range
// endpoint, or a port/proto specified at the wrong level. It always aborts
// compilation.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

var ipEthertypes = []int{0x800, 0x86dd}
var portProtos = []int{6, 17}

func isIPEthertype(ethertype int) bool {
	return ethertype == 0x800 || ethertype == 0x86dd
}

func isPortProto(proto int) bool {
	return proto == 6 || proto == 17
}

var ethertypeNames = map[string]int{
	"ip":   fingerprint.EthertypeIP,
	"ipv4": 0x800,
	"arp":  0x806,
	"ipv6": 0x86dd,
}

// protocolsByName stands in for the platform protocol database
// (socket.getprotobyname in the original): Go has no portable equivalent, and
// none of the retrieval pack's repos wire a real one, so this fixed table
// covers the IP protocol names a routing config plausibly names.
var protocolsByName = map[string]int{
	"icmp":     1,
	"igmp":     2,
	"tcp":      6,
	"egp":      8,
	"pup":      12,
	"udp":      17,
	"idp":      22,
	"tp":       29,
	"ipv6":     41,
	"routing":  43,
	"fragment": 44,
	"rsvp":     46,
	"gre":      47,
	"esp":      50,
	"ah":       51,
	"icmpv6":   58,
	"none":     59,
	"dstopts":  60,
	"ospf":     89,
	"ipip":     94,
	"pim":      103,
	"sctp":     132,
}

// servicesByName stands in for the platform services database
// (socket.getservbyname) for the same reason; it covers TCP/UDP service
// names a routing config plausibly names. Both TCP and UDP share this table,
// matching the well-known-ports convention the original relies on.
var servicesByName = map[string]int{
	"echo":     7,
	"ftp-data": 20,
	"ftp":      21,
	"ssh":      22,
	"telnet":   23,
	"smtp":     25,
	"domain":   53,
	"dns":      53,
	"http":     80,
	"pop3":     110,
	"ntp":      123,
	"imap":     143,
	"snmp":     161,
	"https":    443,
	"syslog":   514,
}

// Compile builds a routetable.Table from raw, the deserialized value of the
// config's "outputs" key: a list of [pattern, protomatches] pairs. pattern is
// a string or nil (DROP). Each entry in protomatches is itself a list of 0-3
// positions (ethertype-spec, proto-spec, port-spec); a spec at any position
// is a scalar or a list of (scalar | two-element range pair).
//
// Entries are processed in order; later entries override earlier ones
// wherever their matches overlap, per spec §4.1 and §8 property 2.
func Compile(raw interface{}) (*routetable.Table, error) {
	table := routetable.New()
	entries, err := asList(raw)
	if err != nil {
		return nil, err
	}
	for _, entryRaw := range entries {
		entry, err := asList(entryRaw)
		if err != nil {
			return nil, err
		}
		if len(entry) != 2 {
			return nil, configErrorf("outputs entry must be a [pattern, matches] pair, got %#v", entryRaw)
		}
		leaf, err := asPatternLeaf(entry[0])
		if err != nil {
			return nil, err
		}
		protomatches, err := asList(entry[1])
		if err != nil {
			return nil, err
		}
		for _, pmRaw := range protomatches {
			protomatch, err := asList(pmRaw)
			if err != nil {
				return nil, err
			}
			if err := handleProtomatch(&table.Node, leaf, protomatch); err != nil {
				return nil, err
			}
		}
	}
	return table, nil
}

// handleProtomatch installs leaf for every fingerprint protomatch covers.
// A zero-length protomatch matches everything: the entire table is replaced
// (not merged) with a fresh catch-all, with the IP ethertypes' TCP/UDP
// children eagerly pre-created so a later narrow override still has
// somewhere to attach without disturbing sibling protos.
func handleProtomatch(root *routetable.Node, leaf *routetable.Leaf, protomatch []interface{}) error {
	if len(protomatch) == 0 {
		*root = routetable.Node{Default: leaf, Children: make(map[int]*routetable.Node)}
		for _, et := range ipEthertypes {
			etNode := &routetable.Node{Default: leaf, Children: make(map[int]*routetable.Node)}
			for _, proto := range portProtos {
				etNode.Children[proto] = &routetable.Node{Default: leaf}
			}
			root.Children[et] = etNode
		}
		return nil
	}
	return handleEthertypes(root, leaf, protomatch[0], protomatch[1:])
}

func handleEthertypes(root *routetable.Node, leaf *routetable.Leaf, ethertypesSpec interface{}, rest []interface{}) error {
	for _, rangeSpec := range ensureTuple(ethertypesSpec) {
		lo, hi, err := ethertypeRangeToNums(rangeSpec)
		if err != nil {
			return err
		}
		for ethertype := lo; ethertype < hi; ethertype++ {
			if err := handleEthertype(root, leaf, ethertype, rest); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleEthertype installs leaf at ethertype. If the match stops here (rest
// empty) and ethertype is an IP ethertype, the node is wholesale replaced
// with a fresh default-carrying node whose TCP/UDP children are pre-created,
// so the fallback is visible to a deeper lookup that never finds a more
// specific override. A non-IP ethertype has no further descent: the node
// becomes a plain leaf.
func handleEthertype(root *routetable.Node, leaf *routetable.Leaf, ethertype int, protomatch []interface{}) error {
	if ethertype == fingerprint.EthertypeIP {
		for _, et := range ipEthertypes {
			if err := handleEthertype(root, leaf, et, protomatch); err != nil {
				return err
			}
		}
		return nil
	}

	if isIPEthertype(ethertype) {
		if len(protomatch) > 0 {
			return handleProtos(root, leaf, ethertype, protomatch[0], protomatch[1:])
		}
		etNode := &routetable.Node{Default: leaf, Children: make(map[int]*routetable.Node)}
		for _, proto := range portProtos {
			etNode.Children[proto] = &routetable.Node{Default: leaf}
		}
		setChild(root, ethertype, etNode)
		return nil
	}

	if len(protomatch) > 0 {
		return configErrorf("IP protocol specified for non-IP ethertype %d", ethertype)
	}
	setChild(root, ethertype, &routetable.Node{Leaf: leaf})
	return nil
}

func handleProtos(root *routetable.Node, leaf *routetable.Leaf, ethertype int, protosSpec interface{}, rest []interface{}) error {
	for _, rangeSpec := range ensureTuple(protosSpec) {
		lo, hi, err := protoRangeToNums(rangeSpec)
		if err != nil {
			return err
		}
		for proto := lo; proto < hi; proto++ {
			if err := handleProto(root, leaf, ethertype, proto, rest); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleProto installs leaf at (ethertype, proto), getting or creating the
// ethertype-level node (reusing whatever a previous entry left there,
// matching the original's try/except KeyError pattern) rather than wiping
// it — a match that continues past this level must not discard sibling
// protos already routed under the same ethertype.
func handleProto(root *routetable.Node, leaf *routetable.Leaf, ethertype, proto int, protomatch []interface{}) error {
	ethertypeNode := ensureChild(root, ethertype)

	if isPortProto(proto) {
		if len(protomatch) > 0 {
			return handlePorts(ethertypeNode, leaf, proto, protomatch[0], protomatch[1:])
		}
		setChild(ethertypeNode, proto, &routetable.Node{Default: leaf})
		return nil
	}

	if len(protomatch) > 0 {
		return configErrorf("port specified for non-TCP/UDP IP protocol %d", proto)
	}
	setChild(ethertypeNode, proto, &routetable.Node{Leaf: leaf})
	return nil
}

func handlePorts(ethertypeNode *routetable.Node, leaf *routetable.Leaf, proto int, portsSpec interface{}, rest []interface{}) error {
	for _, rangeSpec := range ensureTuple(portsSpec) {
		lo, hi, err := portRangeToNums(rangeSpec, proto)
		if err != nil {
			return err
		}
		for port := lo; port < hi; port++ {
			if err := handlePort(ethertypeNode, leaf, proto, port); err != nil {
				return err
			}
		}
	}
	return nil
}

// handlePort installs leaf at (ethertype, proto, port), the deepest level:
// always a plain leaf assignment, getting or creating the proto-level node
// the same way handleProto does for the ethertype level.
func handlePort(ethertypeNode *routetable.Node, leaf *routetable.Leaf, proto, port int) error {
	protoNode := ensureChild(ethertypeNode, proto)
	setChild(protoNode, port, &routetable.Node{Leaf: leaf})
	return nil
}

// ensureChild returns the existing child at key, or creates and installs an
// empty one.
func ensureChild(n *routetable.Node, key int) *routetable.Node {
	if n.Children == nil {
		n.Children = make(map[int]*routetable.Node)
	}
	c, ok := n.Children[key]
	if !ok {
		c = &routetable.Node{}
		n.Children[key] = c
	}
	return c
}

func setChild(n *routetable.Node, key int, child *routetable.Node) {
	if n.Children == nil {
		n.Children = make(map[int]*routetable.Node)
	}
	n.Children[key] = child
}

func asList(v interface{}) ([]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, configErrorf("expected a list, got %T (%#v)", v, v)
	}
	return list, nil
}

func asPatternLeaf(v interface{}) (*routetable.Leaf, error) {
	if v == nil {
		return routetable.DropLeaf(), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, configErrorf("filename pattern must be a string or null (drop), got %T", v)
	}
	return routetable.PatternLeaf(s), nil
}

// ensureTuple mirrors the original's ensure_tuple: a scalar becomes a
// single-element list, a list passes through unchanged.
func ensureTuple(v interface{}) []interface{} {
	if list, ok := v.([]interface{}); ok {
		return list
	}
	return []interface{}{v}
}

func ethertypeRangeToNums(v interface{}) (lo, hi int, err error) {
	if list, ok := v.([]interface{}); ok {
		if len(list) != 2 {
			return 0, 0, configErrorf("ethertype range must have exactly two endpoints, got %#v", v)
		}
		if lo, err = ethertypeToNum(list[0]); err != nil {
			return 0, 0, err
		}
		if hi, err = ethertypeToNum(list[1]); err != nil {
			return 0, 0, err
		}
		if lo == fingerprint.EthertypeIP || hi == fingerprint.EthertypeIP {
			return 0, 0, configErrorf("'ip' must not be used in an ethertype range")
		}
		return lo, hi, nil
	}
	x, err := ethertypeToNum(v)
	if err != nil {
		return 0, 0, err
	}
	return x, x + 1, nil
}

func protoRangeToNums(v interface{}) (lo, hi int, err error) {
	if list, ok := v.([]interface{}); ok {
		if len(list) != 2 {
			return 0, 0, configErrorf("IP protocol range must have exactly two endpoints, got %#v", v)
		}
		if lo, err = protoToNum(list[0]); err != nil {
			return 0, 0, err
		}
		if hi, err = protoToNum(list[1]); err != nil {
			return 0, 0, err
		}
		return lo, hi, nil
	}
	x, err := protoToNum(v)
	if err != nil {
		return 0, 0, err
	}
	return x, x + 1, nil
}

func portRangeToNums(v interface{}, proto int) (lo, hi int, err error) {
	if list, ok := v.([]interface{}); ok {
		if len(list) != 2 {
			return 0, 0, configErrorf("port range must have exactly two endpoints, got %#v", v)
		}
		if lo, err = portToNum(list[0], proto); err != nil {
			return 0, 0, err
		}
		if hi, err = portToNum(list[1], proto); err != nil {
			return 0, 0, err
		}
		return lo, hi, nil
	}
	x, err := portToNum(v, proto)
	if err != nil {
		return 0, 0, err
	}
	return x, x + 1, nil
}

func toInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func ethertypeToNum(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		if n, ok := ethertypeNames[s]; ok {
			return n, nil
		}
	}
	if n, ok := toInt(v); ok {
		return n, nil
	}
	return 0, configErrorf("unknown ethertype %#v", v)
}

func protoToNum(v interface{}) (int, error) {
	if n, ok := toInt(v); ok {
		return n, nil
	}
	if s, ok := v.(string); ok {
		if n, ok := protocolsByName[s]; ok {
			return n, nil
		}
	}
	return 0, configErrorf("unknown IP protocol %#v", v)
}

func portToNum(v interface{}, proto int) (int, error) {
	if s, ok := v.(string); ok && s == "fragment" {
		return fingerprint.PortFragment, nil
	}
	if n, ok := toInt(v); ok {
		return n, nil
	}
	if !isPortProto(proto) {
		return 0, configErrorf("proto must be tcp or udp to resolve service name %#v", v)
	}
	if s, ok := v.(string); ok {
		if n, ok := servicesByName[s]; ok {
			return n, nil
		}
	}
	return 0, configErrorf("unknown port/service name %#v", v)
}
