package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	librpki "github.com/openrpki/relval/validator/lib"
)

var testSerial int64 = 2000

type hierarchy struct {
	rootKey  *rsa.PrivateKey
	root     *x509.Certificate
	rootCert *librpki.Cert

	tree *AuthTree
}

func prefixEntry(t *testing.T, cidr string) librpki.CertIP {
	_, ipnet, err := net.ParseCIDR(cidr)
	assert.Nil(t, err)
	ones, bits := ipnet.Mask.Size()
	afi := librpki.AFIIPv4
	if bits == 128 {
		afi = librpki.AFIIPv6
	}
	ip := librpki.CertIP{
		AFI:  afi,
		Type: librpki.CertIPAddr,
		Addr: librpki.IPAddr{
			Bytes:  ipnet.IP[:(ones+7)/8],
			BitLen: ones,
		},
	}
	assert.True(t, ip.ComposeRanges())
	return ip
}

type buildOpts struct {
	ta     bool
	router bool

	parent    *x509.Certificate
	parentKey *rsa.PrivateKey

	ips  []librpki.CertIP
	asns []librpki.CertAS

	repo, mft string
	aia, crl  string

	notAfter time.Time
}

func buildCert(t *testing.T, key *rsa.PrivateKey, opts buildOpts) []byte {
	ski, err := librpki.HashPublicKey(key.Public())
	assert.Nil(t, err)

	var exts []pkix.Extension
	if opts.ips != nil {
		ext, err := librpki.EncodeIPAddressBlock(opts.ips)
		assert.Nil(t, err)
		exts = append(exts, *ext)
	}
	if opts.asns != nil {
		ext, err := librpki.EncodeASNumBlock(opts.asns)
		assert.Nil(t, err)
		exts = append(exts, *ext)
	}
	if opts.mft != "" {
		ext, err := librpki.EncodeSIA([]*librpki.SIA{
			{AccessMethod: librpki.CARepository, GeneralName: []byte(opts.repo)},
			{AccessMethod: librpki.RPKIManifest, GeneralName: []byte(opts.mft)},
		})
		assert.Nil(t, err)
		exts = append(exts, *ext)
	}

	notAfter := opts.notAfter
	if notAfter.IsZero() {
		notAfter = time.Now().UTC().Add(time.Hour * 24 * 365)
	}

	testSerial++
	template := &x509.Certificate{
		Version:         3,
		SerialNumber:    big.NewInt(testSerial),
		Subject:         pkix.Name{CommonName: fmt.Sprintf("relval-pki-test-%d", testSerial)},
		SubjectKeyId:    ski,
		NotBefore:       time.Now().UTC().Add(-time.Hour),
		NotAfter:        notAfter,
		ExtraExtensions: exts,
	}
	if opts.router {
		template.KeyUsage = x509.KeyUsageDigitalSignature
		template.UnknownExtKeyUsage = []asn1.ObjectIdentifier{librpki.BGPsecRouterEKU}
	} else {
		template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		template.IsCA = true
		template.BasicConstraintsValid = true
	}
	if opts.aia != "" {
		template.IssuingCertificateURL = []string{opts.aia}
	}
	if opts.crl != "" {
		template.CRLDistributionPoints = []string{opts.crl}
	}

	parent := template
	signKey := key
	if !opts.ta {
		parent = opts.parent
		signKey = opts.parentKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), signKey)
	assert.Nil(t, err)
	return der
}

// makeHierarchy installs the S1 trust anchor: IP {10.0.0.0/8}, AS
// {64500}.
func makeHierarchy(t *testing.T) *hierarchy {
	rootKey, err := rsa.GenerateKey(rand.Reader, 1024)
	assert.Nil(t, err)

	der := buildCert(t, rootKey, buildOpts{
		ta:   true,
		ips:  []librpki.CertIP{prefixEntry(t, "10.0.0.0/8")},
		asns: []librpki.CertAS{{Type: librpki.CertASID, ID: 64500}},
		repo: "rsync://lambda/repo/",
		mft:  "rsync://lambda/repo/root.mft",
	})
	root, err := x509.ParseCertificate(der)
	assert.Nil(t, err)

	rootCert, err := librpki.TAParse("root.cer", der, root.RawSubjectPublicKeyInfo)
	assert.Nil(t, err)

	tree := NewAuthTree()
	assert.True(t, ValidTA("root.cer", tree, rootCert))
	_, err = AddTA("root.cer", tree, rootCert, "example")
	assert.Nil(t, err)

	return &hierarchy{
		rootKey:  rootKey,
		root:     root,
		rootCert: rootCert,
		tree:     tree,
	}
}

func (h *hierarchy) child(t *testing.T, ips []librpki.CertIP, asns []librpki.CertAS) *librpki.Cert {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	assert.Nil(t, err)
	der := buildCert(t, key, buildOpts{
		parent:    h.root,
		parentKey: h.rootKey,
		ips:       ips,
		asns:      asns,
		repo:      "rsync://lambda/repo/sub/",
		mft:       "rsync://lambda/repo/sub/sub.mft",
		aia:       "rsync://lambda/repo/root.cer",
		crl:       "rsync://lambda/repo/root.crl",
	})
	cert, err := librpki.CertParse("sub.cer", der)
	assert.Nil(t, err)
	return cert
}

// S1: a second TA with the same SKI is refused.
func TestTAInstall(t *testing.T) {
	h := makeHierarchy(t)
	assert.Equal(t, 1, h.tree.Len())
	assert.False(t, ValidTA("root2.cer", h.tree, h.rootCert))
}

func TestTAInherit(t *testing.T) {
	tree := NewAuthTree()
	cert := &librpki.Cert{
		SKI: "aa",
		IPs: []librpki.CertIP{{AFI: librpki.AFIIPv4, Type: librpki.CertIPInherit}},
	}
	assert.False(t, ValidTA("root.cer", tree, cert))

	cert = &librpki.Cert{
		SKI: "aa",
		AS:  []librpki.CertAS{{Type: librpki.CertASInherit}},
	}
	assert.False(t, ValidTA("root.cer", tree, cert))
}

// S2: a child fully inside the TA allocation.
func TestCoveredChild(t *testing.T) {
	h := makeHierarchy(t)
	child := h.child(t,
		[]librpki.CertIP{prefixEntry(t, "10.1.0.0/16")},
		[]librpki.CertAS{{Type: librpki.CertASID, ID: 64500}})

	assert.True(t, ValidCert("sub.cer", h.tree, child))
	a, err := AddCert("sub.cer", h.tree, child)
	assert.Nil(t, err)
	assert.Equal(t, "example", a.Cert.TAL)
	assert.True(t, a.Cert.Valid)
}

// S3: a child outside the TA allocation.
func TestUncoveredChild(t *testing.T) {
	h := makeHierarchy(t)
	child := h.child(t,
		[]librpki.CertIP{prefixEntry(t, "11.0.0.0/8")},
		nil)

	assert.False(t, ValidCert("sub.cer", h.tree, child))
	_, err := AddCert("sub.cer", h.tree, child)
	assert.NotNil(t, err)
	verr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, ERROR_VALIDATION_COVERAGE, verr.EType)
}

// uncovered AS number
func TestUncoveredAS(t *testing.T) {
	h := makeHierarchy(t)
	child := h.child(t,
		[]librpki.CertIP{prefixEntry(t, "10.1.0.0/16")},
		[]librpki.CertAS{{Type: librpki.CertASID, ID: 65001}})

	assert.False(t, ValidCert("sub.cer", h.tree, child))
}

// S4: inherit defers to the nearest non-inheriting ancestor.
func TestInheritChild(t *testing.T) {
	h := makeHierarchy(t)
	child := h.child(t,
		[]librpki.CertIP{{AFI: librpki.AFIIPv4, Type: librpki.CertIPInherit}},
		[]librpki.CertAS{{Type: librpki.CertASID, ID: 64500}})

	assert.True(t, ValidCert("sub.cer", h.tree, child))
	_, err := AddCert("sub.cer", h.tree, child)
	assert.Nil(t, err)

	// a grandchild under the inheriting child is still decided at
	// the TA
	grand := &librpki.Cert{
		SKI:     "00aa",
		AKI:     child.SKI,
		Purpose: librpki.PurposeCA,
		IPs:     []librpki.CertIP{prefixEntry(t, "10.5.0.0/16")},
	}
	assert.True(t, ValidCert("grand.cer", h.tree, grand))

	outside := &librpki.Cert{
		SKI:     "00ab",
		AKI:     child.SKI,
		Purpose: librpki.PurposeCA,
		IPs:     []librpki.CertIP{prefixEntry(t, "11.0.0.0/16")},
	}
	assert.False(t, ValidCert("grand.cer", h.tree, outside))
}

func TestUnknownParent(t *testing.T) {
	h := makeHierarchy(t)
	stranger := &librpki.Cert{
		SKI:     "00aa",
		AKI:     "feed",
		Purpose: librpki.PurposeCA,
		IPs:     []librpki.CertIP{prefixEntry(t, "10.1.0.0/16")},
	}
	assert.False(t, ValidCert("stranger.cer", h.tree, stranger))
}

func TestDuplicateSKI(t *testing.T) {
	h := makeHierarchy(t)
	child := h.child(t,
		[]librpki.CertIP{prefixEntry(t, "10.1.0.0/16")},
		nil)
	_, err := AddCert("sub.cer", h.tree, child)
	assert.Nil(t, err)

	dup := &librpki.Cert{
		SKI:     child.SKI,
		AKI:     h.rootCert.SKI,
		Purpose: librpki.PurposeCA,
		IPs:     []librpki.CertIP{prefixEntry(t, "10.2.0.0/16")},
	}
	assert.False(t, ValidCert("dup.cer", h.tree, dup))
}

func roaIP(t *testing.T, cidr string) librpki.ROAIP {
	_, ipnet, err := net.ParseCIDR(cidr)
	assert.Nil(t, err)
	ones, bits := ipnet.Mask.Size()
	afi := librpki.AFIIPv4
	if bits == 128 {
		afi = librpki.AFIIPv6
	}
	ip := librpki.ROAIP{
		AFI: afi,
		Addr: librpki.IPAddr{
			Bytes:  ipnet.IP[:(ones+7)/8],
			BitLen: ones,
		},
		MaxLength: ones,
	}
	assert.True(t, ip.ComposeRanges())
	return ip
}

// S5: ROA prefixes are IP-covered through the chain and stamped with
// the TAL.
func TestROA(t *testing.T) {
	h := makeHierarchy(t)
	child := h.child(t,
		[]librpki.CertIP{prefixEntry(t, "10.1.0.0/16")},
		[]librpki.CertAS{{Type: librpki.CertASID, ID: 64500}})
	_, err := AddCert("sub.cer", h.tree, child)
	assert.Nil(t, err)

	roa := &librpki.ROA{
		SKI:  "00aa",
		AKI:  child.SKI,
		ASID: 64500,
		IPs:  []librpki.ROAIP{roaIP(t, "10.1.0.0/24")},
	}
	assert.True(t, ValidROA("a.roa", h.tree, roa))
	assert.Equal(t, "example", roa.TAL)

	bad := &librpki.ROA{
		SKI:  "00ab",
		AKI:  child.SKI,
		ASID: 64500,
		IPs:  []librpki.ROAIP{roaIP(t, "11.1.0.0/16")},
	}
	assert.False(t, ValidROA("b.roa", h.tree, bad))
}

// S6: a BGPsec router certificate produces one BRK per AS id; a later
// expiry replaces, an earlier one is dropped.
func TestBGPsecRouterBRK(t *testing.T) {
	h := makeHierarchy(t)

	key, err := rsa.GenerateKey(rand.Reader, 1024)
	assert.Nil(t, err)
	der := buildCert(t, key, buildOpts{
		router:    true,
		parent:    h.root,
		parentKey: h.rootKey,
		asns:      []librpki.CertAS{{Type: librpki.CertASID, ID: 64500}},
		aia:       "rsync://lambda/repo/root.cer",
		crl:       "rsync://lambda/repo/root.crl",
	})
	cert, err := librpki.CertParse("router.cer", der)
	assert.Nil(t, err)
	assert.True(t, ValidCert("router.cer", h.tree, cert))
	_, err = AddCert("router.cer", h.tree, cert)
	assert.Nil(t, err)

	brks := NewBRKTree()
	brks.InsertBRKs(cert)
	assert.Equal(t, 1, brks.Len())
	assert.Equal(t, uint32(64500), brks.All()[0].ASID)

	// later expiry wins and carries its TAL
	later := *cert
	later.Expires = cert.Expires.Add(time.Hour)
	later.TAL = "example2"
	brks.InsertBRKs(&later)
	assert.Equal(t, 1, brks.Len())
	assert.Equal(t, later.Expires, brks.All()[0].Expires)
	assert.Equal(t, "example2", brks.All()[0].TAL)

	// earlier expiry is dropped
	earlier := *cert
	earlier.Expires = cert.Expires.Add(-time.Hour)
	earlier.TAL = "example3"
	brks.InsertBRKs(&earlier)
	assert.Equal(t, later.Expires, brks.All()[0].Expires)
	assert.Equal(t, "example2", brks.All()[0].TAL)
}

func TestBGPsecRouterInherit(t *testing.T) {
	h := makeHierarchy(t)
	router := &librpki.Cert{
		SKI:     "00aa",
		AKI:     h.rootCert.SKI,
		Purpose: librpki.PurposeBGPsecRouter,
		AS:      []librpki.CertAS{{Type: librpki.CertASInherit}},
	}
	assert.False(t, ValidCert("router.cer", h.tree, router))
}

func TestBRKRangeExpansion(t *testing.T) {
	brks := NewBRKTree()
	cert := &librpki.Cert{
		SKI:     "00aa",
		Pubkey:  "cGs=",
		TAL:     "example",
		Expires: time.Now().UTC(),
		AS:      []librpki.CertAS{{Type: librpki.CertASRange, Min: 64500, Max: 64503}},
	}
	brks.InsertBRKs(cert)
	assert.Equal(t, 4, brks.Len())

	// a pathological range is refused, not expanded
	wide := &librpki.Cert{
		SKI:     "00ab",
		Pubkey:  "cGs=",
		Expires: time.Now().UTC(),
		AS:      []librpki.CertAS{{Type: librpki.CertASRange, Min: 1, Max: 1 << 24}},
	}
	brks.InsertBRKs(wide)
	assert.Equal(t, 4, brks.Len())
}

func TestValidFilename(t *testing.T) {
	assert.True(t, ValidFilename("a.cer"))
	assert.True(t, ValidFilename("A.CER"))
	assert.False(t, ValidFilename(".cer"))
	assert.False(t, ValidFilename("a.b.cer"))
	assert.True(t, ValidFilename("a-b_c.ROA"))
	assert.False(t, ValidFilename("a.txt"))
	assert.False(t, ValidFilename("a b.cer"))
	assert.False(t, ValidFilename("ab.cr"))
}

func TestValidFileHash(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "a.cer")
	content := []byte("der bytes")
	assert.Nil(t, os.WriteFile(fn, content, 0644))

	sum := sha256.Sum256(content)
	ok, err := ValidFileHash(fn, sum[:])
	assert.Nil(t, err)
	assert.True(t, ok)

	bad := sha256.Sum256([]byte("other"))
	ok, err = ValidFileHash(fn, bad[:])
	assert.Nil(t, err)
	assert.False(t, ok)

	ok, err = ValidFileHash(filepath.Join(dir, "missing.cer"), sum[:])
	assert.Nil(t, err)
	assert.False(t, ok)

	// wrong digest size is a contract violation
	_, err = ValidFileHash(fn, sum[:16])
	assert.NotNil(t, err)
}

func TestAuthTreeDeterministicKeys(t *testing.T) {
	tree := NewAuthTree()
	for _, ski := range []string{"cc", "aa", "bb"} {
		err := tree.Insert(&Auth{Cert: &librpki.Cert{SKI: ski, TAL: "x"}})
		assert.Nil(t, err)
	}
	assert.Equal(t, []string{"aa", "bb", "cc"}, tree.Keys())

	err := tree.Insert(&Auth{Cert: &librpki.Cert{SKI: "aa"}})
	assert.NotNil(t, err)
}
