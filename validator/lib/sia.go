package librpki

import (
	"encoding/asn1"
	"fmt"
	"strings"
)

// https://tools.ietf.org/html/rfc6487#section-4.8.8

// SIA is one accessDescription of the Subject Information Access
// extension.
type SIA struct {
	AccessMethod asn1.ObjectIdentifier
	GeneralName  []byte `asn1:"tag:6"`
}

func (sia *SIA) String() string {
	return fmt.Sprintf("SIA %v %v", sia.AccessMethod, string(sia.GeneralName))
}

// parseSIA walks the accessDescription pairs. The three known access
// methods are single-valued; a repeat is fatal. Unknown methods are
// ignored. Afterwards the caRepository URI must prefix the manifest
// one.
func (p *parser) parseSIA(value []byte) error {
	var sias []SIA
	if _, err := asn1.Unmarshal(value, &sias); err != nil {
		return fmt.Errorf("%s: RFC 6487 section 4.8.8: SIA: %v", p.fn, err)
	}

	for i := range sias {
		uri := string(sias[i].GeneralName)
		switch {
		case sias[i].AccessMethod.Equal(CARepository):
			if p.res.Repo != "" {
				return fmt.Errorf("%s: RFC 6487 section 4.8.8: SIA: CA repository already specified", p.fn)
			}
			if !ValidURI(uri, "rsync://") {
				return fmt.Errorf("%s: RFC 6487 section 4.8.8: bad CA repository URI", p.fn)
			}
			p.res.Repo = uri
		case sias[i].AccessMethod.Equal(RPKIManifest):
			if p.res.MFT != "" {
				return fmt.Errorf("%s: RFC 6487 section 4.8.8: SIA: MFT location already specified", p.fn)
			}
			if !ValidURI(uri, "rsync://") {
				return fmt.Errorf("%s: RFC 6487 section 4.8.8: bad MFT location", p.fn)
			}
			if len(uri) < 4 || !strings.EqualFold(uri[len(uri)-4:], ".mft") {
				return fmt.Errorf("%s: RFC 6487 section 4.8.8: SIA: not an MFT file", p.fn)
			}
			p.res.MFT = uri
		case sias[i].AccessMethod.Equal(RPKINotify):
			if p.res.Notify != "" {
				return fmt.Errorf("%s: RFC 6487 section 4.8.8: SIA: Notify location already specified", p.fn)
			}
			if !ValidURI(uri, "https://") {
				return fmt.Errorf("%s: RFC 8182 section 3.2: bad Notify URI", p.fn)
			}
			p.res.Notify = uri
		default:
			// silently ignore
		}
	}

	if !strings.HasPrefix(p.res.MFT, p.res.Repo) {
		return fmt.Errorf("%s: RFC 6487 section 4.8.8: SIA: conflicting URIs for caRepository and rpkiManifest", p.fn)
	}
	return nil
}

// ValidURI accepts a URI made of printable ASCII only, optionally
// pinned to a protocol prefix (case-insensitive), and refuses any
// path element starting with a dot.
func ValidURI(uri string, proto string) bool {
	if len(uri) == 0 {
		return false
	}
	for i := 0; i < len(uri); i++ {
		if uri[i] <= ' ' || uri[i] > '~' {
			return false
		}
	}
	if proto != "" {
		if len(uri) < len(proto) || !strings.EqualFold(uri[:len(proto)], proto) {
			return false
		}
	}
	if strings.Contains(uri, "/.") {
		return false
	}
	return true
}
