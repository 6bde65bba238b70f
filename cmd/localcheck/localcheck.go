package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/gortr/prefixfile"
	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"

	"github.com/openrpki/relval/ov"
	ipcpki "github.com/openrpki/relval/validator/ipc"
	librpki "github.com/openrpki/relval/validator/lib"
	"github.com/openrpki/relval/validator/pki"
)

var (
	RootTAL    = flag.String("tal.root", "tals/example.tal", "List of TAL separated by comma")
	MapDir     = flag.String("map.dir", "rsync://rpki.example.net/repository/=./rpki.example.net/repository/", "Map of the paths separated by commas")
	ROAStream  = flag.String("roas.stream", "", "File containing serialized ROA records from the CMS frontend")
	CheckRoute = flag.String("check.route", "", "Answer origin validation for prefix,asn against the accepted ROAs")
	LogLevel   = flag.String("loglevel", "info", "Log level")
	Output     = flag.String("output", "output.json", "Output file")
	SentryDSN  = flag.String("sentry.dsn", "", "Sentry DSN")
)

// parseMapDirectory splits "rsync://a/=./b/,rsync://c/=./d/" pairs.
func parseMapDirectory(mapdir string) map[string]string {
	m := make(map[string]string)
	for _, pair := range strings.Split(mapdir, ",") {
		if idx := strings.Index(pair, "="); idx > 0 {
			m[pair[:idx]] = pair[idx+1:]
		}
	}
	return m
}

func localPath(mapdir map[string]string, uri string) string {
	for prefix, dir := range mapdir {
		if strings.HasPrefix(uri, prefix) {
			return filepath.Join(dir, uri[len(prefix):])
		}
	}
	return uri
}

func captureError(err error) {
	var verr *pki.ValidationError
	ok := false
	if verr, ok = err.(*pki.ValidationError); !ok {
		return
	}
	if *SentryDSN == "" {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		verr.SetSentryScope(scope)
		sentry.CaptureException(verr)
	})
}

// validateCerts runs insertion passes until no certificate makes
// progress, which orders parents before children without manifest
// scheduling.
func validateCerts(tree *pki.AuthTree, files []string, certs map[string]*librpki.Cert) {
	pending := make([]string, 0, len(certs))
	pending = append(pending, files...)
	for len(pending) > 0 {
		next := make([]string, 0)
		for _, fn := range pending {
			cert := certs[fn]
			if tree.Find(cert.AKI) == nil && tree.Find(cert.SKI) == nil {
				next = append(next, fn)
				continue
			}
			if _, err := pki.AddCert(fn, tree, cert); err != nil {
				log.Errorf("%v", err)
				captureError(err)
			}
		}
		if len(next) == len(pending) {
			for _, fn := range next {
				log.Warnf("%s: no valid chain to a trust anchor", fn)
			}
			return
		}
		pending = next
	}
}

func checkRoute(ix *ov.Index, route string) {
	parts := strings.Split(route, ",")
	if len(parts) != 2 {
		log.Errorf("check.route wants prefix,asn, have %q", route)
		return
	}
	_, prefix, err := net.ParseCIDR(parts[0])
	if err != nil {
		log.Errorf("check.route: %v", err)
		return
	}
	asn, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		log.Errorf("check.route: %v", err)
		return
	}

	state, _ := ix.Validate(prefix, uint32(asn))
	log.Infof("route %s AS%d: %s", prefix.String(), asn, ov.StateToName[state])
}

func main() {
	flag.Parse()
	lvl, _ := log.ParseLevel(*LogLevel)
	log.SetLevel(lvl)
	log.Infof("Validator started")

	if *SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: *SentryDSN}); err != nil {
			log.Fatalf("sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	pki.SetLog(log.StandardLogger())
	mapDir := parseMapDirectory(*MapDir)

	tree := pki.NewAuthTree()
	brks := pki.NewBRKTree()

	for _, talPath := range strings.Split(*RootTAL, ",") {
		talData, err := os.ReadFile(talPath)
		if err != nil {
			log.Fatalf("%s: %v", talPath, err)
		}
		tal, err := librpki.DecodeTAL(talData)
		if err != nil {
			log.Fatalf("%s: %v", talPath, err)
		}

		taFile := localPath(mapDir, tal.URIs[0])
		taData, err := os.ReadFile(taFile)
		if err != nil {
			log.Fatalf("%s: %v", taFile, err)
		}
		taCert, err := librpki.TAParse(taFile, taData, tal.PublicKey)
		if err != nil {
			log.Errorf("%v", err)
			continue
		}
		talName := strings.TrimSuffix(filepath.Base(talPath), ".tal")
		if _, err := pki.AddTA(taFile, tree, taCert, talName); err != nil {
			log.Errorf("%v", err)
			captureError(err)
		}
	}

	// Parse every certificate under the mapped directories, then
	// insert top-down.
	certs := make(map[string]*librpki.Cert)
	files := make([]string, 0)
	for _, dir := range mapDir {
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".cer") {
				return nil
			}
			if !pki.ValidFilename(filepath.Base(path)) {
				log.Warnf("%s: invalid file name", path)
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				log.Errorf("%s: %v", path, err)
				return nil
			}
			cert, err := librpki.CertParse(path, data)
			if err != nil {
				log.Errorf("%v", err)
				captureError(pki.NewValidationErrorMalformed(path, err))
				return nil
			}
			certs[path] = cert
			files = append(files, path)
			return nil
		})
	}
	validateCerts(tree, files, certs)

	for _, ski := range tree.Keys() {
		cert := tree.Find(ski).Cert
		if cert.Purpose == librpki.PurposeBGPsecRouter {
			brks.InsertBRKs(cert)
		}
	}

	ors := &prefixfile.ROAList{
		Data: make([]prefixfile.ROAJson, 0),
	}
	ix := ov.NewIndex()
	if *ROAStream != "" {
		f, err := os.Open(*ROAStream)
		if err != nil {
			log.Fatalf("%s: %v", *ROAStream, err)
		}
		defer f.Close()
		for {
			roa, err := ipcpki.ROARead(f)
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Errorf("%s: %v", *ROAStream, err)
				break
			}
			if !pki.ValidROA(*ROAStream, tree, roa) {
				continue
			}
			for _, vrp := range ov.FromROA(roa) {
				ors.Data = append(ors.Data, prefixfile.ROAJson{
					ASN:    fmt.Sprintf("AS%d", vrp.ASID),
					Prefix: vrp.Prefix.String(),
					Length: uint8(vrp.MaxLength),
					TA:     vrp.TAL,
				})
				ix.Add(vrp)
			}
		}
	}

	curTime := time.Now().UTC()
	ors.Metadata = prefixfile.MetaData{
		Counts:    len(ors.Data),
		Generated: int(curTime.Unix()),
		Valid:     int(curTime.Add(24 * time.Hour).Unix()),
	}

	if *CheckRoute != "" {
		checkRoute(ix, *CheckRoute)
	}

	log.Infof("authorities: %d, router keys: %d, accepted ROAs: %d", tree.Len(), brks.Len(), len(ors.Data))

	var out io.Writer = os.Stdout
	if *Output != "" {
		f, err := os.Create(*Output)
		if err != nil {
			log.Fatalf("%s: %v", *Output, err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ors); err != nil {
		log.Fatalf("%v", err)
	}
}
