package librpki

import (
	"fmt"
	"math/big"
)

// https://tools.ietf.org/html/rfc3779 section 3.2

type CertASType uint8

const (
	CertASID CertASType = iota
	CertASRange
	CertASInherit
)

// CertAS is one AS identifier entry of a certificate: a single id, an
// inclusive range, or the inherit marker.
type CertAS struct {
	Type CertASType
	ID   uint32
	Min  uint32
	Max  uint32
}

func (as *CertAS) String() string {
	switch as.Type {
	case CertASInherit:
		return "AS (inherit)"
	case CertASID:
		return fmt.Sprintf("AS%d", as.ID)
	}
	return fmt.Sprintf("AS%d--AS%d", as.Min, as.Max)
}

// Bounds normalizes the entry to an inclusive [min, max] interval.
// Meaningless for inherit entries.
func (as *CertAS) Bounds() (uint32, uint32) {
	if as.Type == CertASID {
		return as.ID, as.ID
	}
	return as.Min, as.Max
}

// ParseASID converts an ASN.1 integer into a 32-bit AS identifier,
// rejecting negatives and values beyond the RFC 6793 number space.
func ParseASID(v *big.Int) (uint32, error) {
	if v.Sign() < 0 || v.BitLen() > 32 {
		return 0, fmt.Errorf("RFC 3779 section 3.2.3.8 (via RFC 1930): malformed AS identifier %v", v)
	}
	return uint32(v.Uint64()), nil
}

// ASCheckOverlap tells whether the entry can be appended to the set:
// id/range intervals must stay disjoint and only a single inherit
// statement is allowed (RFC 3779 section 3.3).
func ASCheckOverlap(as *CertAS, set []CertAS) bool {
	for i := range set {
		if as.Type == CertASInherit || set[i].Type == CertASInherit {
			if as.Type == set[i].Type {
				return false
			}
			continue
		}
		amin, amax := as.Bounds()
		bmin, bmax := set[i].Bounds()
		if amin <= bmax && bmin <= amax {
			return false
		}
	}
	return true
}

// ASCheckCovered decides coverage of [min, max] against a
// certificate's AS set: 1 when a non-inheriting entry covers it, -1
// when non-inheriting entries are present and none does, 0 when the
// set is empty or inherits and the caller must consult the next
// ancestor.
func ASCheckCovered(min, max uint32, set []CertAS) int {
	sawConcrete := false
	for i := range set {
		if set[i].Type == CertASInherit {
			return 0
		}
		sawConcrete = true
		bmin, bmax := set[i].Bounds()
		if bmin <= min && max <= bmax {
			return 1
		}
	}
	if sawConcrete {
		return -1
	}
	return 0
}
