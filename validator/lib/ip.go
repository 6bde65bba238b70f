package librpki

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"net"
)

// https://tools.ietf.org/html/rfc3779 section 2.2

type AFI uint8

const (
	AFIIPv4 AFI = 1
	AFIIPv6 AFI = 2
)

func (afi AFI) Size() int {
	if afi == AFIIPv6 {
		return 16
	}
	return 4
}

func (afi AFI) Bits() int {
	return afi.Size() * 8
}

func (afi AFI) String() string {
	switch afi {
	case AFIIPv4:
		return "IPv4"
	case AFIIPv6:
		return "IPv6"
	}
	return fmt.Sprintf("AFI(%d)", uint8(afi))
}

// ParseAFI decodes the addressFamily octet string of an
// IPAddressFamily element (RFC 3779 section 2.2.3.3). A trailing SAFI
// octet is tolerated and ignored.
func ParseAFI(data []byte) (AFI, error) {
	if len(data) != 2 && len(data) != 3 {
		return 0, fmt.Errorf("RFC 3779 section 2.2.3.3: addressFamily: invalid length %d", len(data))
	}
	if data[0] != 0 || (data[1] != 1 && data[1] != 2) {
		return 0, fmt.Errorf("RFC 3779 section 2.2.3.3: addressFamily: unknown AFI %d", int(data[0])<<8|int(data[1]))
	}
	return AFI(data[1]), nil
}

// IPAddr is a partial address as encoded in an RFC 3779 bit string:
// the significant bits of a prefix or range boundary.
type IPAddr struct {
	Bytes  []byte
	BitLen int
}

// ParseIPAddr converts a DER bit string into an IPAddr, bounding the
// bit length to the address family width.
func ParseIPAddr(afi AFI, bs asn1.BitString) (IPAddr, error) {
	if bs.BitLength < 0 || bs.BitLength > afi.Bits() {
		return IPAddr{}, fmt.Errorf("RFC 3779 section 2.2.3.8: IPAddress: %d bits exceed %s width", bs.BitLength, afi)
	}
	if len(bs.Bytes) != (bs.BitLength+7)/8 {
		return IPAddr{}, fmt.Errorf("RFC 3779 section 2.2.3.8: IPAddress: have %d bytes for %d bits", len(bs.Bytes), bs.BitLength)
	}
	addr := IPAddr{
		Bytes:  make([]byte, len(bs.Bytes)),
		BitLen: bs.BitLength,
	}
	copy(addr.Bytes, bs.Bytes)
	return addr, nil
}

// Expand pads the partial address to the full family width. With
// fillOnes the bits beyond BitLen are set, producing the upper bound
// of the encoded prefix or range boundary; otherwise they stay zero.
func (a IPAddr) Expand(afi AFI, fillOnes bool) []byte {
	out := make([]byte, afi.Size())
	copy(out, a.Bytes)
	if !fillOnes {
		return out
	}
	idx := a.BitLen / 8
	if rem := a.BitLen % 8; rem != 0 && idx < len(out) {
		out[idx] |= 0xFF >> uint(rem)
		idx++
	}
	for ; idx < len(out); idx++ {
		out[idx] = 0xFF
	}
	return out
}

func (a IPAddr) String() string {
	return fmt.Sprintf("%v/%d", net.IP(a.Expand(afiOfLen(len(a.Bytes)), false)), a.BitLen)
}

func afiOfLen(n int) AFI {
	if n > 4 {
		return AFIIPv6
	}
	return AFIIPv4
}

// IPAddrPrint renders a full-width address for diagnostics.
func IPAddrPrint(afi AFI, addr []byte) string {
	buf := make([]byte, afi.Size())
	copy(buf, addr)
	return net.IP(buf).String()
}

// CertIPType discriminates the IPAddressOrRange choice plus the
// inherit marker of RFC 3779 section 2.2.3.
type CertIPType uint8

const (
	CertIPAddr CertIPType = iota
	CertIPRange
	CertIPInherit
)

// CertIP is one validated IP entry of a certificate. Min and Max hold
// the canonical full-width bounds for non-inherit entries.
type CertIP struct {
	AFI  AFI
	Type CertIPType

	Min []byte
	Max []byte

	Addr     IPAddr
	RangeMin IPAddr
	RangeMax IPAddr
}

// ComposeRanges fills in Min and Max from the parsed address material.
// Returns false when a range is reversed.
func (ip *CertIP) ComposeRanges() bool {
	switch ip.Type {
	case CertIPAddr:
		ip.Min = ip.Addr.Expand(ip.AFI, false)
		ip.Max = ip.Addr.Expand(ip.AFI, true)
	case CertIPRange:
		ip.Min = ip.RangeMin.Expand(ip.AFI, false)
		ip.Max = ip.RangeMax.Expand(ip.AFI, true)
	case CertIPInherit:
		return true
	}
	return bytes.Compare(ip.Min, ip.Max) <= 0
}

func (ip *CertIP) String() string {
	switch ip.Type {
	case CertIPInherit:
		return fmt.Sprintf("%s (inherit)", ip.AFI)
	case CertIPAddr:
		return fmt.Sprintf("%s/%d", IPAddrPrint(ip.AFI, ip.Min), ip.Addr.BitLen)
	}
	return fmt.Sprintf("%s--%s", IPAddrPrint(ip.AFI, ip.Min), IPAddrPrint(ip.AFI, ip.Max))
}

// IPCheckOverlap tells whether the entry can be appended to the set:
// byte-wise [Min, Max] intervals of the same family must stay disjoint
// and only one inherit statement per family is allowed (RFC 3779
// section 2.2.3.6).
func IPCheckOverlap(ip *CertIP, ips []CertIP) bool {
	for i := range ips {
		if ips[i].AFI != ip.AFI {
			continue
		}
		if ip.Type == CertIPInherit || ips[i].Type == CertIPInherit {
			if ip.Type == ips[i].Type {
				return false
			}
			continue
		}
		if bytes.Compare(ip.Min, ips[i].Max) <= 0 && bytes.Compare(ips[i].Min, ip.Max) <= 0 {
			return false
		}
	}
	return true
}

// IPCheckCovered decides coverage of [min, max] against a
// certificate's IP set: 1 when some non-inheriting entry of the family
// covers it, -1 when the family is present without inherit and does
// not cover it, 0 when the set has nothing authoritative for this
// family and the caller must consult the next ancestor.
func IPCheckCovered(afi AFI, min, max []byte, ips []CertIP) int {
	sawFamily := false
	for i := range ips {
		if ips[i].AFI != afi {
			continue
		}
		if ips[i].Type == CertIPInherit {
			return 0
		}
		sawFamily = true
		if bytes.Compare(ips[i].Min, min) <= 0 && bytes.Compare(max, ips[i].Max) <= 0 {
			return 1
		}
	}
	if sawFamily {
		return -1
	}
	return 0
}
