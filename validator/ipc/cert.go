package ipcpki

import (
	"errors"
	"fmt"
	"io"
	"time"

	librpki "github.com/openrpki/relval/validator/lib"
)

func writeIPAddr(w io.Writer, a librpki.IPAddr) error {
	if err := writeUint8(w, uint8(a.BitLen)); err != nil {
		return err
	}
	return writeBytes(w, a.Bytes)
}

func readIPAddr(r io.Reader, afi librpki.AFI, a *librpki.IPAddr) error {
	var bits uint8
	if err := readUint8(r, &bits); err != nil {
		return err
	}
	if int(bits) > afi.Bits() {
		return fmt.Errorf("address bit length %d exceeds %s width", bits, afi)
	}
	b, err := readBytes(r, 16)
	if err != nil {
		return err
	}
	if len(b) != (int(bits)+7)/8 {
		return fmt.Errorf("address carries %d bytes for %d bits", len(b), bits)
	}
	a.BitLen = int(bits)
	a.Bytes = b
	return nil
}

func certIPWrite(w io.Writer, ip *librpki.CertIP) error {
	if err := writeUint8(w, uint8(ip.AFI)); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(ip.Type)); err != nil {
		return err
	}
	if ip.Type != librpki.CertIPInherit {
		if err := writeBytes(w, ip.Min); err != nil {
			return err
		}
		if err := writeBytes(w, ip.Max); err != nil {
			return err
		}
	}
	switch ip.Type {
	case librpki.CertIPRange:
		if err := writeIPAddr(w, ip.RangeMin); err != nil {
			return err
		}
		return writeIPAddr(w, ip.RangeMax)
	case librpki.CertIPAddr:
		return writeIPAddr(w, ip.Addr)
	}
	return nil
}

func certIPRead(r io.Reader, ip *librpki.CertIP) error {
	var afi, typ uint8
	if err := readUint8(r, &afi); err != nil {
		return err
	}
	if afi != uint8(librpki.AFIIPv4) && afi != uint8(librpki.AFIIPv6) {
		return fmt.Errorf("unknown AFI %d", afi)
	}
	ip.AFI = librpki.AFI(afi)

	if err := readUint8(r, &typ); err != nil {
		return err
	}
	if typ > uint8(librpki.CertIPInherit) {
		return fmt.Errorf("unknown IP entry type %d", typ)
	}
	ip.Type = librpki.CertIPType(typ)

	if ip.Type != librpki.CertIPInherit {
		var err error
		if ip.Min, err = readBytes(r, 16); err != nil {
			return err
		}
		if ip.Max, err = readBytes(r, 16); err != nil {
			return err
		}
		if len(ip.Min) != ip.AFI.Size() || len(ip.Max) != ip.AFI.Size() {
			return fmt.Errorf("bounds do not match %s width", ip.AFI)
		}
	}
	switch ip.Type {
	case librpki.CertIPRange:
		if err := readIPAddr(r, ip.AFI, &ip.RangeMin); err != nil {
			return err
		}
		return readIPAddr(r, ip.AFI, &ip.RangeMax)
	case librpki.CertIPAddr:
		return readIPAddr(r, ip.AFI, &ip.Addr)
	}
	return nil
}

func certASWrite(w io.Writer, as *librpki.CertAS) error {
	if err := writeUint8(w, uint8(as.Type)); err != nil {
		return err
	}
	switch as.Type {
	case librpki.CertASRange:
		if err := writeUint32(w, as.Min); err != nil {
			return err
		}
		return writeUint32(w, as.Max)
	case librpki.CertASID:
		return writeUint32(w, as.ID)
	}
	return nil
}

func certASRead(r io.Reader, as *librpki.CertAS) error {
	var typ uint8
	if err := readUint8(r, &typ); err != nil {
		return err
	}
	if typ > uint8(librpki.CertASInherit) {
		return fmt.Errorf("unknown AS entry type %d", typ)
	}
	as.Type = librpki.CertASType(typ)
	switch as.Type {
	case librpki.CertASRange:
		if err := readUint32(r, &as.Min); err != nil {
			return err
		}
		return readUint32(r, &as.Max)
	case librpki.CertASID:
		return readUint32(r, &as.ID)
	}
	return nil
}

// CertWrite serializes a parsed certificate onto the pipe. CertRead is
// the exact mirror.
func CertWrite(w io.Writer, c *librpki.Cert) error {
	var valid uint8
	if c.Valid {
		valid = 1
	}
	if err := writeUint8(w, valid); err != nil {
		return err
	}
	if err := writeInt64(w, c.Expires.Unix()); err != nil {
		return err
	}
	if err := writeUint8(w, uint8(c.Purpose)); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(c.IPs))); err != nil {
		return err
	}
	for i := range c.IPs {
		if err := certIPWrite(w, &c.IPs[i]); err != nil {
			return err
		}
	}

	if err := writeUint32(w, uint32(len(c.AS))); err != nil {
		return err
	}
	for i := range c.AS {
		if err := certASWrite(w, &c.AS[i]); err != nil {
			return err
		}
	}

	for _, s := range []string{c.MFT, c.Notify, c.Repo, c.CRL, c.AIA, c.AKI, c.SKI, c.TAL, c.Pubkey} {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// CertRead deserializes a certificate record, refusing oversized
// counts and inconsistent fields. The X509 handle does not cross the
// pipe.
func CertRead(r io.Reader) (*librpki.Cert, error) {
	c := &librpki.Cert{}

	var valid uint8
	if err := readUint8(r, &valid); err != nil {
		return nil, err
	}
	c.Valid = valid != 0

	var expires int64
	if err := readInt64(r, &expires); err != nil {
		return nil, err
	}
	c.Expires = time.Unix(expires, 0).UTC()

	var purpose uint8
	if err := readUint8(r, &purpose); err != nil {
		return nil, err
	}
	if purpose != uint8(librpki.PurposeCA) && purpose != uint8(librpki.PurposeBGPsecRouter) {
		return nil, fmt.Errorf("unknown certificate purpose %d", purpose)
	}
	c.Purpose = librpki.CertPurpose(purpose)

	var ipsz uint32
	if err := readUint32(r, &ipsz); err != nil {
		return nil, err
	}
	if ipsz > maxEntries {
		return nil, fmt.Errorf("IP entry count %d exceeds cap", ipsz)
	}
	if ipsz > 0 {
		c.IPs = make([]librpki.CertIP, ipsz)
		for i := range c.IPs {
			if err := certIPRead(r, &c.IPs[i]); err != nil {
				return nil, err
			}
		}
	}

	var asz uint32
	if err := readUint32(r, &asz); err != nil {
		return nil, err
	}
	if asz > maxEntries {
		return nil, fmt.Errorf("AS entry count %d exceeds cap", asz)
	}
	if asz > 0 {
		c.AS = make([]librpki.CertAS, asz)
		for i := range c.AS {
			if err := certASRead(r, &c.AS[i]); err != nil {
				return nil, err
			}
		}
	}

	for _, s := range []*string{&c.MFT, &c.Notify, &c.Repo, &c.CRL, &c.AIA, &c.AKI, &c.SKI, &c.TAL, &c.Pubkey} {
		if err := readString(r, s); err != nil {
			return nil, err
		}
	}

	if c.MFT == "" && c.Purpose != librpki.PurposeBGPsecRouter {
		return nil, errors.New("certificate record without manifest")
	}
	if c.SKI == "" {
		return nil, errors.New("certificate record without SKI")
	}
	return c, nil
}

// ROAWrite serializes a validator-side ROA record.
func ROAWrite(w io.Writer, roa *librpki.ROA) error {
	for _, s := range []string{roa.SKI, roa.AKI, roa.TAL} {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	if err := writeUint32(w, roa.ASID); err != nil {
		return err
	}
	if err := writeInt64(w, roa.Expires.Unix()); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(roa.IPs))); err != nil {
		return err
	}
	for i := range roa.IPs {
		ip := &roa.IPs[i]
		if err := writeUint8(w, uint8(ip.AFI)); err != nil {
			return err
		}
		if err := writeUint8(w, uint8(ip.MaxLength)); err != nil {
			return err
		}
		if err := writeIPAddr(w, ip.Addr); err != nil {
			return err
		}
	}
	return nil
}

// ROARead mirrors ROAWrite; bounds are recomposed rather than
// trusted from the pipe.
func ROARead(r io.Reader) (*librpki.ROA, error) {
	roa := &librpki.ROA{}
	for _, s := range []*string{&roa.SKI, &roa.AKI, &roa.TAL} {
		if err := readString(r, s); err != nil {
			return nil, err
		}
	}
	if err := readUint32(r, &roa.ASID); err != nil {
		return nil, err
	}
	var expires int64
	if err := readInt64(r, &expires); err != nil {
		return nil, err
	}
	roa.Expires = time.Unix(expires, 0).UTC()

	var ipsz uint32
	if err := readUint32(r, &ipsz); err != nil {
		return nil, err
	}
	if ipsz > maxEntries {
		return nil, fmt.Errorf("ROA prefix count %d exceeds cap", ipsz)
	}
	if ipsz > 0 {
		roa.IPs = make([]librpki.ROAIP, ipsz)
		for i := range roa.IPs {
			ip := &roa.IPs[i]
			var afi, maxlen uint8
			if err := readUint8(r, &afi); err != nil {
				return nil, err
			}
			if afi != uint8(librpki.AFIIPv4) && afi != uint8(librpki.AFIIPv6) {
				return nil, fmt.Errorf("unknown AFI %d", afi)
			}
			ip.AFI = librpki.AFI(afi)
			if err := readUint8(r, &maxlen); err != nil {
				return nil, err
			}
			ip.MaxLength = int(maxlen)
			if err := readIPAddr(r, ip.AFI, &ip.Addr); err != nil {
				return nil, err
			}
			if !ip.ComposeRanges() {
				return nil, fmt.Errorf("ROA prefix with bad max length %d", ip.MaxLength)
			}
		}
	}

	if roa.SKI == "" {
		return nil, errors.New("ROA record without SKI")
	}
	return roa, nil
}
