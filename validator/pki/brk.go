package pki

import (
	"sort"
	"time"

	librpki "github.com/openrpki/relval/validator/lib"
)

// BRK binds an AS number to a BGPsec router key (RFC 8209).
type BRK struct {
	ASID    uint32
	SKI     string
	Pubkey  string
	TAL     string
	Expires time.Time
}

type brkKey struct {
	asid   uint32
	ski    string
	pubkey string
}

// A range wider than this is refused outright; legitimate router
// certificates hold a handful of AS numbers and the parent coverage
// check has already run.
const maxBRKExpansion = 1 << 16

// BRKTree aggregates router keys per (asid, ski, pubkey). A colliding
// insert keeps whichever record expires later, together with its TAL.
type BRKTree struct {
	brks map[brkKey]*BRK
}

func NewBRKTree() *BRKTree {
	return &BRKTree{
		brks: make(map[brkKey]*BRK),
	}
}

func (t *BRKTree) insert(cert *librpki.Cert, asid uint32) {
	key := brkKey{asid: asid, ski: cert.SKI, pubkey: cert.Pubkey}
	found, ok := t.brks[key]
	if ok {
		if found.Expires.Before(cert.Expires) {
			found.Expires = cert.Expires
			found.TAL = cert.TAL
		}
		return
	}
	t.brks[key] = &BRK{
		ASID:    asid,
		SKI:     cert.SKI,
		Pubkey:  cert.Pubkey,
		TAL:     cert.TAL,
		Expires: cert.Expires,
	}
}

// InsertBRKs adds one router key per AS number of a BGPsec router
// certificate.
func (t *BRKTree) InsertBRKs(cert *librpki.Cert) {
	for i := range cert.AS {
		switch cert.AS[i].Type {
		case librpki.CertASID:
			t.insert(cert, cert.AS[i].ID)
		case librpki.CertASRange:
			if cert.AS[i].Max-cert.AS[i].Min >= maxBRKExpansion {
				warnf("refusing oversized AS range %d--%d for router key %s", cert.AS[i].Min, cert.AS[i].Max, cert.SKI)
				continue
			}
			for asid := cert.AS[i].Min; asid <= cert.AS[i].Max; asid++ {
				t.insert(cert, asid)
			}
		default:
			warnf("invalid AS identifier type in router certificate %s", cert.SKI)
		}
	}
}

func (t *BRKTree) Len() int {
	return len(t.brks)
}

// All returns the router keys ordered by (asid, ski, pubkey).
func (t *BRKTree) All() []*BRK {
	out := make([]*BRK, 0, len(t.brks))
	for _, b := range t.brks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ASID != out[j].ASID {
			return out[i].ASID < out[j].ASID
		}
		if out[i].SKI != out[j].SKI {
			return out[i].SKI < out[j].SKI
		}
		return out[i].Pubkey < out[j].Pubkey
	})
	return out
}
