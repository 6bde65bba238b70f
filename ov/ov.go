// Package ov answers route origin queries (RFC 6811) against the
// prefixes asserted by accepted ROAs.
package ov

import (
	"net"

	"github.com/kentik/patricia"
	"github.com/kentik/patricia/int64_tree"

	librpki "github.com/openrpki/relval/validator/lib"
)

const (
	StateNotFound = iota
	StateInvalid
	StateValid
)

var (
	StateToName = map[int]string{
		StateNotFound: "NotFound",
		StateInvalid:  "Invalid",
		StateValid:    "Valid",
	}
)

// VRP is one validated ROA payload: a prefix with its maximum length,
// authorized for an origin AS under a trust anchor.
type VRP struct {
	Prefix    *net.IPNet
	MaxLength int
	ASID      uint32
	TAL       string
}

// FromROA expands an accepted ROA record into its payloads.
func FromROA(roa *librpki.ROA) []VRP {
	vrps := make([]VRP, 0, len(roa.IPs))
	for i := range roa.IPs {
		ip := &roa.IPs[i]
		vrps = append(vrps, VRP{
			Prefix: &net.IPNet{
				IP:   net.IP(ip.Addr.Expand(ip.AFI, false)),
				Mask: net.CIDRMask(ip.Addr.BitLen, ip.AFI.Bits()),
			},
			MaxLength: ip.MaxLength,
			ASID:      roa.ASID,
			TAL:       roa.TAL,
		})
	}
	return vrps
}

// Index holds the payloads in per-family patricia trees so a route
// lookup only touches covering prefixes.
type Index struct {
	vrps []VRP
	v4   *int64_tree.TreeV4
	v6   *int64_tree.TreeV6
}

func NewIndex() *Index {
	return &Index{
		vrps: make([]VRP, 0),
		v4:   int64_tree.NewTreeV4(),
		v6:   int64_tree.NewTreeV6(),
	}
}

// Add indexes a single payload.
func (ix *Index) Add(vrp VRP) {
	ip4, ip6, err := patricia.ParseFromIPAddr(vrp.Prefix)
	if err != nil {
		return
	}
	tag := int64(len(ix.vrps))
	ix.vrps = append(ix.vrps, vrp)
	if ip4 != nil {
		ix.v4.Add(*ip4, tag, nil)
	} else if ip6 != nil {
		ix.v6.Add(*ip6, tag, nil)
	}
}

// AddROA indexes every payload of an accepted ROA.
func (ix *Index) AddROA(roa *librpki.ROA) {
	for _, vrp := range FromROA(roa) {
		ix.Add(vrp)
	}
}

func (ix *Index) Len() int {
	return len(ix.vrps)
}

// covering collects the payloads whose prefix contains the queried
// one.
func (ix *Index) covering(prefix *net.IPNet) []VRP {
	ip4, ip6, err := patricia.ParseFromIPAddr(prefix)
	if err != nil {
		return nil
	}

	var tags []int64
	collect := func(tag int64) bool {
		tags = append(tags, tag)
		return true
	}
	if ip4 != nil {
		ix.v4.FindTagsWithFilter(*ip4, collect)
	} else if ip6 != nil {
		ix.v6.FindTagsWithFilter(*ip6, collect)
	}

	matches := make([]VRP, 0, len(tags))
	for _, tag := range tags {
		matches = append(matches, ix.vrps[tag])
	}
	return matches
}

// Validate decides the RFC 6811 state of a route announcement. A
// route is Valid when some covering payload authorizes its origin AS
// at its prefix length, Invalid when covering payloads exist but none
// does, NotFound when no payload covers the prefix.
func (ix *Index) Validate(prefix *net.IPNet, asid uint32) (int, []VRP) {
	matches := ix.covering(prefix)
	if len(matches) == 0 {
		return StateNotFound, matches
	}

	plen, _ := prefix.Mask.Size()
	for _, vrp := range matches {
		if vrp.ASID == asid && plen <= vrp.MaxLength {
			return StateValid, matches
		}
	}
	return StateInvalid, matches
}
