package librpki

import (
	"fmt"
	"time"
)

// https://tools.ietf.org/html/rfc6482

// ROAIP is one prefix asserted by a ROA, expanded to its canonical
// bounds the same way certificate entries are.
type ROAIP struct {
	AFI       AFI
	Addr      IPAddr
	MaxLength int

	Min []byte
	Max []byte
}

// ComposeRanges fills Min and Max from the prefix.
func (ip *ROAIP) ComposeRanges() bool {
	if ip.MaxLength < ip.Addr.BitLen || ip.MaxLength > ip.AFI.Bits() {
		return false
	}
	ip.Min = ip.Addr.Expand(ip.AFI, false)
	ip.Max = ip.Addr.Expand(ip.AFI, true)
	return true
}

func (ip *ROAIP) String() string {
	return fmt.Sprintf("%s/%d (maxlen %d)", IPAddrPrint(ip.AFI, ip.Min), ip.Addr.BitLen, ip.MaxLength)
}

// ROA is the validator-side record of a Route Origin Authorization:
// the EE certificate identifiers plus the asserted prefixes. CMS
// unwrapping happens upstream; only what the coverage validator needs
// crosses the pipe.
type ROA struct {
	SKI     string
	AKI     string
	TAL     string
	ASID    uint32
	Expires time.Time

	IPs []ROAIP
}

func (r *ROA) String() string {
	return fmt.Sprintf("ROA AS%d ski:%s prefixes:%d", r.ASID, r.SKI, len(r.IPs))
}
