package screening

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/common"
)

// Fingerprint identifies a screened address. Equivalent spellings of the
// same address share a fingerprint, so it is used as the decision cache key.
type Fingerprint uint64

// Bech32 human readable parts of bitcoin addresses. Bech32 is case
// insensitive, so these addresses are lowercased.
var bech32Prefixes = []string{"bc1", "tb1", "bcrt1"}

// NormalizeAddress returns the canonical spelling of address that is sent to
// the risk provider and hashed into its fingerprint.
func NormalizeAddress(address string) string {
	addr := strings.TrimSpace(address)
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	lower := strings.ToLower(addr)
	for _, hrp := range bech32Prefixes {
		if strings.HasPrefix(lower, hrp) {
			return lower
		}
	}
	// base58 and other encodings are case sensitive
	return addr
}

// FingerprintFromAddress hashes the normalized address.
func FingerprintFromAddress(address string) Fingerprint {
	fingerprintPreimage := fmt.Sprintf("ADDR:%s", NormalizeAddress(address))
	return Fingerprint(xxhash.Sum64String(fingerprintPreimage))
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}
