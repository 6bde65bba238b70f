// The untrusted half of the validation pipeline: reads DER file paths
// on stdin, parses each certificate and writes the serialized record
// to stdout. A malformed object is logged and skipped; the validator
// on the other end of the pipe never sees it.
package main

import (
	"bufio"
	"flag"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	ipcpki "github.com/openrpki/relval/validator/ipc"
	librpki "github.com/openrpki/relval/validator/lib"
	"github.com/openrpki/relval/validator/pki"
)

var (
	TAFile   = flag.String("ta", "", "Treat this path as the trust anchor certificate")
	TAKey    = flag.String("ta.key", "", "DER SubjectPublicKeyInfo file pinned by the TAL")
	LogLevel = flag.String("loglevel", "info", "Log level")
)

func main() {
	flag.Parse()
	lvl, _ := log.ParseLevel(*LogLevel)
	log.SetLevel(lvl)

	var talKey []byte
	if *TAKey != "" {
		var err error
		talKey, err = os.ReadFile(*TAKey)
		if err != nil {
			log.Fatalf("%s: %v", *TAKey, err)
		}
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fn := strings.TrimSpace(scanner.Text())
		if fn == "" {
			continue
		}
		if !pki.ValidFilename(filepath.Base(fn)) {
			log.Warnf("%s: invalid file name", fn)
			continue
		}

		data, err := os.ReadFile(fn)
		if err != nil {
			log.Errorf("%s: %v", fn, err)
			continue
		}

		var cert *librpki.Cert
		if fn == *TAFile {
			cert, err = librpki.TAParse(fn, data, talKey)
		} else {
			cert, err = librpki.CertParse(fn, data)
		}
		if err != nil {
			log.Errorf("%v", err)
			continue
		}

		if err := ipcpki.CertWrite(out, cert); err != nil {
			log.Fatalf("%s: pipe write: %v", fn, err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stdin: %v", err)
	}
}
