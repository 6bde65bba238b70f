package pki

import (
	"fmt"
	"sort"

	librpki "github.com/openrpki/relval/validator/lib"
)

// Auth is one authenticated certificate in the trust forest. Parent is
// nil for a trust anchor. The tree owns the cert for the whole
// validation run.
type Auth struct {
	Cert   *librpki.Cert
	Parent *Auth
}

func (a *Auth) File() string {
	if a.Cert.MFT != "" {
		return a.Cert.MFT
	}
	return a.Cert.SKI
}

// AuthTree maps SKI to authority. Iteration order is fixed by sorting
// keys so diagnostics stay deterministic regardless of insertion
// order.
type AuthTree struct {
	auths map[string]*Auth
}

func NewAuthTree() *AuthTree {
	return &AuthTree{
		auths: make(map[string]*Auth),
	}
}

// Find returns the authority whose certificate SKI matches the given
// key, or nil.
func (t *AuthTree) Find(ski string) *Auth {
	return t.auths[ski]
}

// Insert adds an authority; a duplicate SKI is refused. A non-TA
// authority without a TAL identifier inherits its parent's.
func (t *AuthTree) Insert(a *Auth) error {
	ski := a.Cert.SKI
	if _, ok := t.auths[ski]; ok {
		return fmt.Errorf("RFC 6487: duplicate SKI %s", ski)
	}
	if a.Cert.TAL == "" && a.Parent != nil {
		a.Cert.TAL = a.Parent.Cert.TAL
	}
	t.auths[ski] = a
	return nil
}

func (t *AuthTree) Len() int {
	return len(t.auths)
}

// Keys returns the SKIs in sorted order.
func (t *AuthTree) Keys() []string {
	keys := make([]string, 0, len(t.auths))
	for k := range t.auths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
