package pki

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/getsentry/sentry-go"

	librpki "github.com/openrpki/relval/validator/lib"
)

const (
	ERROR_VALIDATION_MALFORMED = iota
	ERROR_VALIDATION_SEMANTIC
	ERROR_VALIDATION_COVERAGE
	ERROR_VALIDATION_HASHSIZE
	ERROR_VALIDATION_IO
)

type stack []uintptr
type Frame uintptr

var (
	ErrorTypeToName = map[int]string{
		ERROR_VALIDATION_MALFORMED: "malformed",
		ERROR_VALIDATION_SEMANTIC:  "semantic",
		ERROR_VALIDATION_COVERAGE:  "coverage",
		ERROR_VALIDATION_HASHSIZE:  "hashsize",
		ERROR_VALIDATION_IO:        "io",
	}
)

// ValidationError carries the rejection context of one object so the
// reporting layer can tag it without re-deriving anything.
type ValidationError struct {
	EType int

	InnerErr error
	Message  string
	File     string

	Certificate *librpki.Cert

	IPs  []librpki.CertIP
	ASNs []librpki.CertAS

	Stack *stack
}

func callers() *stack {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	var st stack = pcs[0:n]
	return &st
}

// This function returns the Stacktrace of the error.
// The naming scheme corresponds to what Sentry fetches
// https://github.com/getsentry/sentry-go/blob/master/stacktrace.go#L49
func StackTrace(s *stack) []Frame {
	f := make([]Frame, len(*s))
	for i := 0; i < len(f); i++ {
		f[i] = Frame((*s)[i])
	}
	return f
}

func (e *ValidationError) StackTrace() []Frame {
	return StackTrace(e.Stack)
}

func (e *ValidationError) Error() string {
	certinfo := ""
	if e.Certificate != nil {
		certinfo = fmt.Sprintf(" for certificate ski:%s aki:%s", e.Certificate.SKI, e.Certificate.AKI)
	}

	var err string
	if e.InnerErr != nil {
		err = fmt.Sprintf(": %s", e.InnerErr.Error())
	}

	var ips, asns string
	if len(e.IPs) > 0 {
		toMerge := make([]string, len(e.IPs))
		for i := range e.IPs {
			toMerge[i] = e.IPs[i].String()
		}
		ips = fmt.Sprintf(" uncovered IP resources (%d): [%v]", len(e.IPs), strings.Join(toMerge, ", "))
	}
	if len(e.ASNs) > 0 {
		toMerge := make([]string, len(e.ASNs))
		for i := range e.ASNs {
			toMerge[i] = e.ASNs[i].String()
		}
		asns = fmt.Sprintf(" uncovered AS resources (%d): [%v]", len(e.ASNs), strings.Join(toMerge, ", "))
	}

	return fmt.Sprintf("%s: %s%s%v%s%s", e.File, e.Message, certinfo, err, ips, asns)
}

func (e *ValidationError) SetSentryScope(scope *sentry.Scope) {
	scope.SetTag("Type", ErrorTypeToName[e.EType])
	scope.SetTag("File", e.File)

	if e.Certificate != nil {
		scope.SetTag("Certificate.SubjectKeyId", e.Certificate.SKI)
		scope.SetTag("Certificate.AuthorityKeyId", e.Certificate.AKI)
		scope.SetTag("Certificate.Purpose", e.Certificate.Purpose.String())
		scope.SetExtra("Certificate.Expires", e.Certificate.Expires)
		scope.SetExtra("Certificate.IP", e.Certificate.IPs)
		scope.SetExtra("Certificate.ASN", e.Certificate.AS)
	}
	if len(e.IPs) > 0 {
		scope.SetExtra("IPs", e.IPs)
	}
	if len(e.ASNs) > 0 {
		scope.SetExtra("ASNs", e.ASNs)
	}
}

func NewValidationErrorMalformed(fn string, err error) *ValidationError {
	return &ValidationError{
		EType:    ERROR_VALIDATION_MALFORMED,
		File:     fn,
		InnerErr: err,
		Message:  "parse issue",
		Stack:    callers(),
	}
}

func NewValidationErrorSemantic(fn string, cert *librpki.Cert) *ValidationError {
	return &ValidationError{
		EType:       ERROR_VALIDATION_SEMANTIC,
		File:        fn,
		Certificate: cert,
		Message:     "semantic issue",
		Stack:       callers(),
	}
}

func NewValidationErrorCoverage(fn string, cert *librpki.Cert) *ValidationError {
	return &ValidationError{
		EType:       ERROR_VALIDATION_COVERAGE,
		File:        fn,
		Certificate: cert,
		Message:     "resource coverage issue",
		Stack:       callers(),
	}
}

func NewValidationErrorHashSize(size int) *ValidationError {
	return &ValidationError{
		EType:   ERROR_VALIDATION_HASHSIZE,
		Message: fmt.Sprintf("bad hash size %d", size),
		Stack:   callers(),
	}
}

func NewValidationErrorIO(fn string, err error) *ValidationError {
	return &ValidationError{
		EType:    ERROR_VALIDATION_IO,
		File:     fn,
		InnerErr: err,
		Message:  "io issue",
		Stack:    callers(),
	}
}
