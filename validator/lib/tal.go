package librpki

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// https://tools.ietf.org/html/rfc8630

// TAL is a decoded Trust Anchor Locator: the certificate URIs and the
// pinned SubjectPublicKeyInfo of the trust anchor.
type TAL struct {
	URIs      []string
	PublicKey []byte
}

// CheckCertificate compares a candidate trust anchor key against the
// pinned one.
func (tal *TAL) CheckCertificate(cert *x509.Certificate) bool {
	return bytes.Equal(tal.PublicKey, cert.RawSubjectPublicKeyInfo)
}

func deleteLineEnd(line string) string {
	return strings.TrimRight(line, "\r\n")
}

// DecodeTAL parses a TAL file: URI lines, a blank separator, then the
// base64 DER SubjectPublicKeyInfo.
func DecodeTAL(data []byte) (*TAL, error) {
	buf := bytes.NewBuffer(data)
	tal := &TAL{}

	var b64 string
	inKey := false
	for {
		line, err := buf.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		trimmed := deleteLineEnd(line)
		switch {
		case !inKey && trimmed == "":
			inKey = true
		case !inKey && strings.HasPrefix(trimmed, "#"):
			// comment line, RFC 8630 section 2.1
		case !inKey:
			if !ValidURI(trimmed, "") {
				return nil, fmt.Errorf("RFC 8630 section 2.1: bad TAL URI %q", trimmed)
			}
			tal.URIs = append(tal.URIs, trimmed)
		default:
			b64 += trimmed
		}
		if err == io.EOF {
			break
		}
	}

	if len(tal.URIs) == 0 {
		return nil, errors.New("RFC 8630 section 2.1: TAL without certificate URI")
	}

	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("RFC 8630 section 2.1: bad TAL public key: %v", err)
	}
	if _, err := x509.ParsePKIXPublicKey(key); err != nil {
		return nil, fmt.Errorf("RFC 8630 section 2.1: bad TAL public key: %v", err)
	}
	tal.PublicKey = key

	return tal, nil
}
