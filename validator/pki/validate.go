package pki

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	librpki "github.com/openrpki/relval/validator/lib"
)

// Log receives validation diagnostics. Commands plug logrus in here;
// a nil Log drops everything.
type Log interface {
	Debugf(string, ...interface{})
	Printf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})
}

var logger Log

// SetLog installs the diagnostic sink for this package.
func SetLog(l Log) {
	logger = l
}

func warnf(format string, args ...interface{}) {
	if logger != nil {
		logger.Warnf(format, args...)
	}
}

// tracewarn names the chain of ancestors a coverage decision
// consulted.
func tracewarn(a *Auth) {
	for ; a != nil; a = a.Parent {
		warnf(" ...inheriting from: %s", a.File())
	}
}

// validAS walks up the chain of certificates until the AS interval is
// positively covered or a non-inheriting allocation refuses it.
func validAS(a *Auth, min, max uint32) bool {
	if a == nil {
		return false
	}
	switch librpki.ASCheckCovered(min, max, a.Cert.AS) {
	case 1:
		return true
	case -1:
		return false
	}
	return validAS(a.Parent, min, max)
}

// validIP does the same for a byte-wise IP interval: only an
// indeterminate answer (nothing authoritative for this family)
// continues the walk.
func validIP(a *Auth, afi librpki.AFI, min, max []byte) bool {
	if a == nil {
		return false
	}
	switch librpki.IPCheckCovered(afi, min, max, a.Cert.IPs) {
	case 1:
		return true
	case -1:
		return false
	}
	return validIP(a.Parent, afi, min, max)
}

// ValidSKIAKI makes sure the SKI is not yet present and resolves the
// parent by AKI. Returns nil when either check fails.
func ValidSKIAKI(fn string, tree *AuthTree, ski, aki string) *Auth {
	if tree.Find(ski) != nil {
		warnf("%s: RFC 6487: duplicate SKI", fn)
		return nil
	}
	a := tree.Find(aki)
	if a == nil {
		warnf("%s: RFC 6487: unknown AKI", fn)
	}
	return a
}

// ValidTA authenticates a trust anchor: resources must not inherit and
// the SKI must be unique.
func ValidTA(fn string, tree *AuthTree, cert *librpki.Cert) bool {
	for i := range cert.AS {
		if cert.AS[i].Type == librpki.CertASInherit {
			warnf("%s: RFC 6487 (trust anchor): inheriting AS resources", fn)
			return false
		}
	}
	for i := range cert.IPs {
		if cert.IPs[i].Type == librpki.CertIPInherit {
			warnf("%s: RFC 6487 (trust anchor): inheriting IP resources", fn)
			return false
		}
	}
	if tree.Find(cert.SKI) != nil {
		warnf("%s: RFC 6487: duplicate SKI", fn)
		return false
	}
	return true
}

// ValidCert checks a non-TA certificate against the authority tree:
// the parent must exist and every non-inheriting resource must be
// covered by the chain.
func ValidCert(fn string, tree *AuthTree, cert *librpki.Cert) bool {
	a := ValidSKIAKI(fn, tree, cert.SKI, cert.AKI)
	if a == nil {
		return false
	}

	for i := range cert.AS {
		if cert.AS[i].Type == librpki.CertASInherit {
			if cert.Purpose == librpki.PurposeBGPsecRouter {
				// BGPsec does not permit inheriting
				return false
			}
			continue
		}
		min, max := cert.AS[i].Bounds()
		if validAS(a, min, max) {
			continue
		}
		warnf("%s: RFC 6487: uncovered AS: %d--%d", fn, min, max)
		tracewarn(a)
		return false
	}

	for i := range cert.IPs {
		if cert.IPs[i].Type == librpki.CertIPInherit {
			// decided at the nearest non-inheriting ancestor
			continue
		}
		if validIP(a, cert.IPs[i].AFI, cert.IPs[i].Min, cert.IPs[i].Max) {
			continue
		}
		warnf("%s: RFC 6487: uncovered IP: %s", fn, uncoveredIP(&cert.IPs[i]))
		tracewarn(a)
		return false
	}

	return true
}

func uncoveredIP(ip *librpki.CertIP) string {
	switch ip.Type {
	case librpki.CertIPRange:
		return fmt.Sprintf("%s--%s", librpki.IPAddrPrint(ip.AFI, ip.Min), librpki.IPAddrPrint(ip.AFI, ip.Max))
	case librpki.CertIPAddr:
		return fmt.Sprintf("%s/%d", librpki.IPAddrPrint(ip.AFI, ip.Min), ip.Addr.BitLen)
	}
	return "(inherit)"
}

// ValidROA checks that every prefix of the ROA is covered by the
// chain; on success the ROA is stamped with the chain's TAL.
func ValidROA(fn string, tree *AuthTree, roa *librpki.ROA) bool {
	a := ValidSKIAKI(fn, tree, roa.SKI, roa.AKI)
	if a == nil {
		return false
	}

	roa.TAL = a.Cert.TAL

	for i := range roa.IPs {
		if validIP(a, roa.IPs[i].AFI, roa.IPs[i].Min, roa.IPs[i].Max) {
			continue
		}
		warnf("%s: RFC 6482: uncovered IP: %s", fn, roa.IPs[i].String())
		tracewarn(a)
		return false
	}

	return true
}

// ValidFilename accepts manifest-listed base names,
// draft-ietf-sidrops-6486bis section 4.2.2: at least 5 characters,
// restricted alphabet, a single dot, one of the four known suffixes.
func ValidFilename(fn string) bool {
	if len(fn) < 5 {
		return false
	}
	for i := 0; i < len(fn); i++ {
		c := fn[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.') {
			return false
		}
	}
	if strings.Count(fn, ".") != 1 {
		return false
	}
	switch strings.ToLower(fn[len(fn)-4:]) {
	case ".cer", ".crl", ".gbr", ".roa":
		return true
	}
	return false
}

// ValidFileHash verifies the SHA-256 digest of a file. A wrong
// expected-hash size is a contract violation by the caller and comes
// back as an error rather than a mismatch.
func ValidFileHash(fn string, hash []byte) (bool, error) {
	if len(hash) != sha256.Size {
		return false, NewValidationErrorHashSize(len(hash))
	}

	f, err := os.Open(fn)
	if err != nil {
		return false, nil
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, nil
	}

	sum := h.Sum(nil)
	for i := range sum {
		if sum[i] != hash[i] {
			return false, nil
		}
	}
	return true, nil
}

// AddTA runs ValidTA and inserts the trust anchor under its TAL
// identifier. Returns a typed error for sentry-enriched reporting.
func AddTA(fn string, tree *AuthTree, cert *librpki.Cert, tal string) (*Auth, error) {
	if !ValidTA(fn, tree, cert) {
		return nil, NewValidationErrorSemantic(fn, cert)
	}
	cert.TAL = tal
	cert.Valid = true
	a := &Auth{Cert: cert}
	if err := tree.Insert(a); err != nil {
		return nil, NewValidationErrorSemantic(fn, cert)
	}
	return a, nil
}

// AddCert runs ValidCert and inserts the certificate under its parent.
func AddCert(fn string, tree *AuthTree, cert *librpki.Cert) (*Auth, error) {
	if !ValidCert(fn, tree, cert) {
		return nil, NewValidationErrorCoverage(fn, cert)
	}
	cert.Valid = true
	a := &Auth{Cert: cert, Parent: tree.Find(cert.AKI)}
	if err := tree.Insert(a); err != nil {
		return nil, NewValidationErrorSemantic(fn, cert)
	}
	return a, nil
}
