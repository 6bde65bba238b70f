package ov

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	librpki "github.com/openrpki/relval/validator/lib"
)

func vrp(t *testing.T, cidr string, maxlen int, asid uint32) VRP {
	_, prefix, err := net.ParseCIDR(cidr)
	assert.Nil(t, err)
	return VRP{
		Prefix:    prefix,
		MaxLength: maxlen,
		ASID:      asid,
		TAL:       "example",
	}
}

func makeIndex(t *testing.T) *Index {
	ix := NewIndex()
	ix.Add(vrp(t, "10.0.0.0/16", 24, 65001))
	ix.Add(vrp(t, "10.0.0.0/22", 23, 65002))
	ix.Add(vrp(t, "10.0.0.0/24", 24, 65003))
	ix.Add(vrp(t, "2001:db8::/32", 48, 65001))
	return ix
}

func query(t *testing.T, cidr string) *net.IPNet {
	_, prefix, err := net.ParseCIDR(cidr)
	assert.Nil(t, err)
	return prefix
}

func TestValidateValid(t *testing.T) {
	ix := makeIndex(t)
	state, matches := ix.Validate(query(t, "10.0.0.0/24"), 65003)
	assert.Equal(t, StateValid, state)
	assert.Equal(t, 3, len(matches))

	// authorized origin, longer prefix within maxlength
	state, _ = ix.Validate(query(t, "10.0.1.0/24"), 65001)
	assert.Equal(t, StateValid, state)

	state, _ = ix.Validate(query(t, "2001:db8:1::/48"), 65001)
	assert.Equal(t, StateValid, state)
}

func TestValidateInvalid(t *testing.T) {
	ix := makeIndex(t)

	// wrong origin AS
	state, matches := ix.Validate(query(t, "10.0.0.0/24"), 64999)
	assert.Equal(t, StateInvalid, state)
	assert.Equal(t, 3, len(matches))

	// authorized origin but beyond the maximum length
	state, _ = ix.Validate(query(t, "10.0.0.0/25"), 65001)
	assert.Equal(t, StateInvalid, state)
}

func TestValidateNotFound(t *testing.T) {
	ix := makeIndex(t)
	state, matches := ix.Validate(query(t, "192.0.2.0/24"), 65001)
	assert.Equal(t, StateNotFound, state)
	assert.Equal(t, 0, len(matches))
}

func TestAddROA(t *testing.T) {
	ip := librpki.ROAIP{
		AFI:       librpki.AFIIPv4,
		Addr:      librpki.IPAddr{Bytes: []byte{10, 1}, BitLen: 16},
		MaxLength: 24,
	}
	assert.True(t, ip.ComposeRanges())
	roa := &librpki.ROA{
		SKI:  "00aa",
		AKI:  "00bb",
		TAL:  "example",
		ASID: 64500,
		IPs:  []librpki.ROAIP{ip},
	}

	ix := NewIndex()
	ix.AddROA(roa)
	assert.Equal(t, 1, ix.Len())

	state, matches := ix.Validate(query(t, "10.1.2.0/24"), 64500)
	assert.Equal(t, StateValid, state)
	assert.Equal(t, 1, len(matches))
	assert.Equal(t, "example", matches[0].TAL)
	assert.Equal(t, "10.1.0.0/16", matches[0].Prefix.String())

	state, _ = ix.Validate(query(t, "10.1.2.0/25"), 64500)
	assert.Equal(t, StateInvalid, state)
}
