package screening

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BlocklistFile is the on-disk format of the local blocklist.
type BlocklistFile struct {
	Addresses []string `yaml:"addresses"`
}

// Blocklist holds addresses that are denied without asking the provider.
// The zero value and a nil *Blocklist are empty.
type Blocklist struct {
	fingerprints map[Fingerprint]string // value: normalized address
}

func NewBlocklist(addresses ...string) *Blocklist {
	b := &Blocklist{fingerprints: make(map[Fingerprint]string, len(addresses))}
	for _, addr := range addresses {
		if NormalizeAddress(addr) == "" {
			continue
		}
		b.fingerprints[FingerprintFromAddress(addr)] = NormalizeAddress(addr)
	}
	return b
}

func ReadBlocklistFromFile(fileName string) (*Blocklist, error) {
	if fileName == "" {
		return NewBlocklist(), nil
	}
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "read blocklist")
	}
	b, err := ParseBlocklist(data)
	if err != nil {
		return nil, errors.Wrapf(err, "blocklist %s", fileName)
	}
	return b, nil
}

// ParseBlocklist parses a BlocklistFile in YAML or JSON.
func ParseBlocklist(data []byte) (*Blocklist, error) {
	var file BlocklistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse blocklist")
	}
	return NewBlocklist(file.Addresses...), nil
}

// Merge returns a new list holding the addresses of both lists.
func (b *Blocklist) Merge(other *Blocklist) *Blocklist {
	merged := &Blocklist{fingerprints: make(map[Fingerprint]string, b.Len()+other.Len())}
	for _, list := range []*Blocklist{b, other} {
		if list == nil {
			continue
		}
		for fp, addr := range list.fingerprints {
			merged.fingerprints[fp] = addr
		}
	}
	return merged
}

func (b *Blocklist) Contains(fp Fingerprint) bool {
	if b == nil {
		return false
	}
	_, ok := b.fingerprints[fp]
	return ok
}

func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.fingerprints)
}
