package librpki

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

// https://tools.ietf.org/html/rfc6487
// https://tools.ietf.org/html/rfc3779

var (
	IPAddrBlock       = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 7}
	AutonomousSysIds  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 8}
	SubjectInfoAccess = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 11}

	CARepository = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 5}
	RPKIManifest = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 10}
	RPKINotify   = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 13}

	BGPsecRouterEKU = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 30}
)

type CertPurpose uint8

const (
	PurposeUnknown CertPurpose = iota
	PurposeCA
	PurposeBGPsecRouter
)

func (p CertPurpose) String() string {
	switch p {
	case PurposeCA:
		return "ca"
	case PurposeBGPsecRouter:
		return "bgpsec_router"
	}
	return "unknown"
}

// Cert is the parsed content of an RPKI resource certificate. The
// record crosses the worker pipe, so everything the validator needs is
// carried here rather than re-derived from the X509 handle.
type Cert struct {
	Valid   bool
	Expires time.Time
	Purpose CertPurpose

	IPs []CertIP
	AS  []CertAS

	MFT    string
	Notify string
	Repo   string
	CRL    string
	AIA    string
	AKI    string
	SKI    string
	TAL    string
	Pubkey string

	X509 *x509.Certificate
}

func (c *Cert) String() string {
	return fmt.Sprintf("Cert ski:%s aki:%s purpose:%s ips:%d as:%d", c.SKI, c.AKI, c.Purpose, len(c.IPs), len(c.AS))
}

type parser struct {
	fn         string
	res        *Cert
	siaPresent bool
}

// appendIP enforces RFC 3779 section 2.2.3.6: no overlapping entries,
// at most one inherit per family.
func (p *parser) appendIP(ip CertIP) error {
	if !IPCheckOverlap(&ip, p.res.IPs) {
		return fmt.Errorf("%s: RFC 3779 section 2.2.3.6: IPAddressOrRange: overlapping %v", p.fn, ip.String())
	}
	p.res.IPs = append(p.res.IPs, ip)
	return nil
}

func (p *parser) appendAS(as CertAS) error {
	if !ASCheckOverlap(&as, p.res.AS) {
		return fmt.Errorf("%s: RFC 3779 section 3.3: ASIdOrRange: overlapping %v", p.fn, as.String())
	}
	p.res.AS = append(p.res.AS, as)
	return nil
}

// parseIPAddrBlock walks the sbgp-ipAddrBlock payload, RFC 3779
// section 2.2.3. Ordering stipulations of 2.2.3.6 are not enforced;
// the coverage checks do not depend on entry order.
func (p *parser) parseIPAddrBlock(value []byte) error {
	type ipAddressFamily struct {
		AddressFamily []byte
		Choice        asn1.RawValue
	}
	var blocks []ipAddressFamily
	if _, err := asn1.Unmarshal(value, &blocks); err != nil {
		return fmt.Errorf("%s: RFC 3779 section 2.2.3.1: IPAddrBlocks: %v", p.fn, err)
	}

	for _, block := range blocks {
		afi, err := ParseAFI(block.AddressFamily)
		if err != nil {
			return fmt.Errorf("%s: %v", p.fn, err)
		}

		switch {
		case block.Choice.Class == asn1.ClassUniversal && block.Choice.Tag == asn1.TagNull:
			if err := p.appendIP(CertIP{AFI: afi, Type: CertIPInherit}); err != nil {
				return err
			}
		case block.Choice.Class == asn1.ClassUniversal && block.Choice.Tag == asn1.TagSequence:
			var entries []asn1.RawValue
			if _, err := asn1.Unmarshal(block.Choice.FullBytes, &entries); err != nil {
				return fmt.Errorf("%s: RFC 3779 section 2.2.3.4: IPAddressChoice: %v", p.fn, err)
			}
			for _, entry := range entries {
				if err := p.parseIPAddrOrRange(afi, entry); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%s: RFC 3779 section 2.2.3.4: IPAddressChoice: want sequence or null, have tag %d", p.fn, block.Choice.Tag)
		}
	}
	return nil
}

// parseIPAddrOrRange handles one IPAddressOrRange choice, RFC 3779
// section 2.2.3.7: a bit string prefix or a two-element min/max range.
func (p *parser) parseIPAddrOrRange(afi AFI, entry asn1.RawValue) error {
	if entry.Class != asn1.ClassUniversal {
		return fmt.Errorf("%s: RFC 3779 section 2.2.3.7: IPAddressOrRange: unexpected class %d", p.fn, entry.Class)
	}
	switch entry.Tag {
	case asn1.TagBitString:
		var bs asn1.BitString
		if _, err := asn1.Unmarshal(entry.FullBytes, &bs); err != nil {
			return fmt.Errorf("%s: RFC 3779 section 2.2.3.8: IPAddress: %v", p.fn, err)
		}
		addr, err := ParseIPAddr(afi, bs)
		if err != nil {
			return fmt.Errorf("%s: %v", p.fn, err)
		}
		ip := CertIP{AFI: afi, Type: CertIPAddr, Addr: addr}
		if !ip.ComposeRanges() {
			return fmt.Errorf("%s: RFC 3779 section 2.2.3.8: IPAddress: address range reversed", p.fn)
		}
		return p.appendIP(ip)
	case asn1.TagSequence:
		var rng struct {
			Min asn1.BitString
			Max asn1.BitString
		}
		if _, err := asn1.Unmarshal(entry.FullBytes, &rng); err != nil {
			return fmt.Errorf("%s: RFC 3779 section 2.2.3.9: IPAddressRange: %v", p.fn, err)
		}
		min, err := ParseIPAddr(afi, rng.Min)
		if err != nil {
			return fmt.Errorf("%s: %v", p.fn, err)
		}
		max, err := ParseIPAddr(afi, rng.Max)
		if err != nil {
			return fmt.Errorf("%s: %v", p.fn, err)
		}
		ip := CertIP{AFI: afi, Type: CertIPRange, RangeMin: min, RangeMax: max}
		if !ip.ComposeRanges() {
			return fmt.Errorf("%s: RFC 3779 section 2.2.3.9: IPAddressRange: address range reversed", p.fn)
		}
		return p.appendIP(ip)
	}
	return fmt.Errorf("%s: RFC 3779 section 2.2.3.7: IPAddressOrRange: want sequence or bit string, have tag %d", p.fn, entry.Tag)
}

// parseASNumBlock walks the sbgp-autonomousSysNum payload, RFC 3779
// section 3.2.3. The rdi member is skipped; anything beyond asnum and
// rdi is an error.
func (p *parser) parseASNumBlock(value []byte) error {
	var members []asn1.RawValue
	if _, err := asn1.Unmarshal(value, &members); err != nil {
		return fmt.Errorf("%s: RFC 3779 section 3.2.3.1: ASIdentifiers: %v", p.fn, err)
	}

	for _, member := range members {
		if member.Class != asn1.ClassContextSpecific {
			return fmt.Errorf("%s: RFC 3779 section 3.2.3.1: ASIdentifiers: want explicit tag, have class %d", p.fn, member.Class)
		}
		switch member.Tag {
		case 0:
			if err := p.parseASIdentifierChoice(member.Bytes); err != nil {
				return err
			}
		case 1:
			// rdi, not used in the RPKI
		default:
			return fmt.Errorf("%s: RFC 3779 section 3.2.3.1: ASIdentifiers: unknown explicit tag %d", p.fn, member.Tag)
		}
	}
	return nil
}

// parseASIdentifierChoice handles the asnum choice of RFC 3779 section
// 3.2.3.2: null for inherit, otherwise a sequence of ids and ranges.
func (p *parser) parseASIdentifierChoice(value []byte) error {
	var choice asn1.RawValue
	if _, err := asn1.Unmarshal(value, &choice); err != nil {
		return fmt.Errorf("%s: RFC 3779 section 3.2.3.2: ASIdentifierChoice: %v", p.fn, err)
	}
	if choice.Class != asn1.ClassUniversal {
		return fmt.Errorf("%s: RFC 3779 section 3.2.3.2: ASIdentifierChoice: unexpected class %d", p.fn, choice.Class)
	}

	switch choice.Tag {
	case asn1.TagNull:
		return p.appendAS(CertAS{Type: CertASInherit})
	case asn1.TagSequence:
	default:
		return fmt.Errorf("%s: RFC 3779 section 3.2.3.2: ASIdentifierChoice: want sequence or null, have tag %d", p.fn, choice.Tag)
	}

	var entries []asn1.RawValue
	if _, err := asn1.Unmarshal(choice.FullBytes, &entries); err != nil {
		return fmt.Errorf("%s: RFC 3779 section 3.2.3.4: asIdsOrRanges: %v", p.fn, err)
	}
	for _, entry := range entries {
		if entry.Class != asn1.ClassUniversal {
			return fmt.Errorf("%s: RFC 3779 section 3.2.3.5: ASIdOrRange: unexpected class %d", p.fn, entry.Class)
		}
		switch entry.Tag {
		case asn1.TagInteger:
			id := new(big.Int)
			if _, err := asn1.Unmarshal(entry.FullBytes, &id); err != nil {
				return fmt.Errorf("%s: RFC 3779 section 3.2.3.10: ASId: %v", p.fn, err)
			}
			asid, err := ParseASID(id)
			if err != nil {
				return fmt.Errorf("%s: %v", p.fn, err)
			}
			if asid == 0 {
				return fmt.Errorf("%s: RFC 3779 section 3.2.3.10 (via RFC 1930): AS identifier zero is reserved", p.fn)
			}
			if err := p.appendAS(CertAS{Type: CertASID, ID: asid}); err != nil {
				return err
			}
		case asn1.TagSequence:
			var rng struct {
				Min *big.Int
				Max *big.Int
			}
			if _, err := asn1.Unmarshal(entry.FullBytes, &rng); err != nil {
				return fmt.Errorf("%s: RFC 3779 section 3.2.3.8: ASRange: %v", p.fn, err)
			}
			min, err := ParseASID(rng.Min)
			if err != nil {
				return fmt.Errorf("%s: %v", p.fn, err)
			}
			max, err := ParseASID(rng.Max)
			if err != nil {
				return fmt.Errorf("%s: %v", p.fn, err)
			}
			if min == max {
				return fmt.Errorf("%s: RFC 3779 section 3.2.3.8: ASRange: range is singular", p.fn)
			}
			if min > max {
				return fmt.Errorf("%s: RFC 3779 section 3.2.3.8: ASRange: range is out of order", p.fn)
			}
			if err := p.appendAS(CertAS{Type: CertASRange, Min: min, Max: max}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: RFC 3779 section 3.2.3.5: ASIdOrRange: want sequence or integer, have tag %d", p.fn, entry.Tag)
		}
	}
	return nil
}

func certParse(fn string, der []byte, ta bool) (*Cert, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%s: empty certificate buffer", fn)
	}

	x, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", fn, err)
	}

	p := &parser{fn: fn, res: &Cert{}}

	// The first occurrence of a known extension wins; crypto/x509
	// already consumed CRL distribution points, AIA, the key
	// identifiers and extended key usage.
	var sawIP, sawAS, sawSIA bool
	for _, ext := range x.Extensions {
		switch {
		case ext.Id.Equal(IPAddrBlock):
			if sawIP {
				continue
			}
			sawIP = true
			if err := p.parseIPAddrBlock(ext.Value); err != nil {
				return nil, err
			}
		case ext.Id.Equal(AutonomousSysIds):
			if sawAS {
				continue
			}
			sawAS = true
			if err := p.parseASNumBlock(ext.Value); err != nil {
				return nil, err
			}
		case ext.Id.Equal(SubjectInfoAccess):
			if sawSIA {
				continue
			}
			sawSIA = true
			p.siaPresent = true
			if err := p.parseSIA(ext.Value); err != nil {
				return nil, err
			}
		}
	}

	res := p.res
	res.SKI = hex.EncodeToString(x.SubjectKeyId)
	res.AKI = hex.EncodeToString(x.AuthorityKeyId)
	if len(x.IssuingCertificateURL) > 0 {
		res.AIA = x.IssuingCertificateURL[0]
	}
	if len(x.CRLDistributionPoints) > 0 {
		res.CRL = x.CRLDistributionPoints[0]
	}
	res.Expires = x.NotAfter

	switch {
	case x.IsCA:
		res.Purpose = PurposeCA
	case hasBGPsecEKU(x):
		res.Purpose = PurposeBGPsecRouter
	default:
		return nil, fmt.Errorf("%s: RFC 6487 section 4.8.5: unknown certificate purpose", fn)
	}

	switch res.Purpose {
	case PurposeCA:
		if res.MFT == "" {
			return nil, fmt.Errorf("%s: RFC 6487 section 4.8.8: missing SIA", fn)
		}
		if len(res.IPs) == 0 && len(res.AS) == 0 {
			return nil, fmt.Errorf("%s: missing IP or AS resources", fn)
		}
	case PurposeBGPsecRouter:
		if len(x.RawSubjectPublicKeyInfo) == 0 {
			return nil, fmt.Errorf("%s: missing subject public key", fn)
		}
		res.Pubkey = base64.StdEncoding.EncodeToString(x.RawSubjectPublicKeyInfo)
		if len(res.IPs) > 0 {
			return nil, fmt.Errorf("%s: unexpected IP resources in BGPsec cert", fn)
		}
		if p.siaPresent {
			return nil, fmt.Errorf("%s: unexpected SIA extension in BGPsec cert", fn)
		}
	}

	if res.SKI == "" {
		return nil, fmt.Errorf("%s: RFC 6487 section 8.4.2: missing SKI", fn)
	}

	if ta {
		if res.AKI != "" && res.AKI != res.SKI {
			return nil, fmt.Errorf("%s: RFC 6487 section 8.4.2: trust anchor AKI, if specified, must match SKI", fn)
		}
		if res.AIA != "" {
			return nil, fmt.Errorf("%s: RFC 6487 section 8.4.7: trust anchor must not have AIA", fn)
		}
		if res.CRL != "" {
			return nil, fmt.Errorf("%s: RFC 6487 section 8.4.2: trust anchor may not specify CRL resource", fn)
		}
	} else {
		if res.AKI == "" {
			return nil, fmt.Errorf("%s: RFC 6487 section 8.4.2: non-trust anchor missing AKI", fn)
		}
		if res.AKI == res.SKI {
			return nil, fmt.Errorf("%s: RFC 6487 section 8.4.2: non-trust anchor AKI may not match SKI", fn)
		}
		if res.AIA == "" {
			return nil, fmt.Errorf("%s: RFC 6487 section 8.4.7: non-trust anchor missing AIA", fn)
		}
	}

	res.X509 = x
	return res, nil
}

func hasBGPsecEKU(x *x509.Certificate) bool {
	for _, eku := range x.UnknownExtKeyUsage {
		if eku.Equal(BGPsecRouterEKU) {
			return true
		}
	}
	return false
}

// CertParse decodes and structurally validates a non-TA resource
// certificate.
func CertParse(fn string, der []byte) (*Cert, error) {
	return certParse(fn, der, false)
}

// TAParse decodes a trust anchor certificate and, when talKey is
// given, pins its subject public key to the TAL one (DER comparison of
// the SubjectPublicKeyInfo).
func TAParse(fn string, der []byte, talKey []byte) (*Cert, error) {
	cert, err := certParse(fn, der, true)
	if err != nil {
		return nil, err
	}
	if talKey != nil && !bytes.Equal(talKey, cert.X509.RawSubjectPublicKeyInfo) {
		return nil, fmt.Errorf("%s: RFC 6487 (trust anchor): pubkey does not match TAL pubkey", fn)
	}
	return cert, nil
}
