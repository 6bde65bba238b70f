package librpki

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// Builders for the RFC 3779/6487 extensions. Production certificates
// come from the registries; these exist so tests and local fixtures
// can assemble hierarchies the same way pki_test does.

func marshalSequence(members [][]byte) ([]byte, error) {
	var body []byte
	for _, m := range members {
		body = append(body, m...)
	}
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSequence,
		IsCompound: true,
		Bytes:      body,
	})
}

// EncodeIPAddressBlock builds the sbgp-ipAddrBlock extension from a
// list of entries. Entries of the same family must be given
// contiguously; inherit entries stand alone for their family.
func EncodeIPAddressBlock(ips []CertIP) (*pkix.Extension, error) {
	var families [][]byte
	for i := 0; i < len(ips); {
		afi := ips[i].AFI
		var choice []byte
		var err error
		if ips[i].Type == CertIPInherit {
			choice, err = asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagNull})
			if err != nil {
				return nil, err
			}
			i++
		} else {
			var entries [][]byte
			for ; i < len(ips) && ips[i].AFI == afi && ips[i].Type != CertIPInherit; i++ {
				var entry []byte
				switch ips[i].Type {
				case CertIPAddr:
					entry, err = asn1.Marshal(asn1.BitString{Bytes: ips[i].Addr.Bytes, BitLength: ips[i].Addr.BitLen})
				case CertIPRange:
					entry, err = asn1.Marshal(struct {
						Min asn1.BitString
						Max asn1.BitString
					}{
						Min: asn1.BitString{Bytes: ips[i].RangeMin.Bytes, BitLength: ips[i].RangeMin.BitLen},
						Max: asn1.BitString{Bytes: ips[i].RangeMax.Bytes, BitLength: ips[i].RangeMax.BitLen},
					})
				}
				if err != nil {
					return nil, err
				}
				entries = append(entries, entry)
			}
			choice, err = marshalSequence(entries)
			if err != nil {
				return nil, err
			}
		}

		family, err := asn1.Marshal(struct {
			AddressFamily []byte
			Choice        asn1.RawValue
		}{
			AddressFamily: []byte{0, byte(afi)},
			Choice:        asn1.RawValue{FullBytes: choice},
		})
		if err != nil {
			return nil, err
		}
		families = append(families, family)
	}

	value, err := marshalSequence(families)
	if err != nil {
		return nil, err
	}
	return &pkix.Extension{Id: IPAddrBlock, Critical: true, Value: value}, nil
}

// EncodeASNumBlock builds the sbgp-autonomousSysNum extension.
func EncodeASNumBlock(set []CertAS) (*pkix.Extension, error) {
	var choice []byte
	var err error
	if len(set) == 1 && set[0].Type == CertASInherit {
		choice, err = asn1.Marshal(asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagNull})
		if err != nil {
			return nil, err
		}
	} else {
		var entries [][]byte
		for i := range set {
			var entry []byte
			switch set[i].Type {
			case CertASID:
				entry, err = asn1.Marshal(big.NewInt(int64(set[i].ID)))
			case CertASRange:
				entry, err = asn1.Marshal(struct {
					Min *big.Int
					Max *big.Int
				}{big.NewInt(int64(set[i].Min)), big.NewInt(int64(set[i].Max))})
			case CertASInherit:
				err = fmt.Errorf("inherit must be the only AS entry")
			}
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		choice, err = marshalSequence(entries)
		if err != nil {
			return nil, err
		}
	}

	asnum, err := asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassContextSpecific,
		Tag:        0,
		IsCompound: true,
		Bytes:      choice,
	})
	if err != nil {
		return nil, err
	}
	value, err := marshalSequence([][]byte{asnum})
	if err != nil {
		return nil, err
	}
	return &pkix.Extension{Id: AutonomousSysIds, Critical: true, Value: value}, nil
}

// EncodeSIA builds the subjectInfoAccess extension from
// accessDescription entries.
func EncodeSIA(sias []*SIA) (*pkix.Extension, error) {
	encoded := make([]SIA, len(sias))
	for i, sia := range sias {
		encoded[i] = *sia
	}
	value, err := asn1.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return &pkix.Extension{Id: SubjectInfoAccess, Critical: false, Value: value}, nil
}

// HashPublicKey derives the RFC 6487 key identifier: the SHA-1 digest
// of the subjectPublicKey bit string.
func HashPublicKey(key crypto.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	var inner struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &inner); err != nil {
		return nil, err
	}
	sum := sha1.Sum(inner.PublicKey.Bytes)
	return sum[:], nil
}
