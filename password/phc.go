package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// ErrMalformedHash wraps every PHC parse failure.
var ErrMalformedHash = errors.New("malformed password hash")

// PHC is a decoded Argon2id hash string.
type PHC struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	Salt        []byte
	Key         []byte
}

// String encodes p as $argon2id$v=19$m=..,t=..,p=..$salt$key with unpadded
// standard base64, as the PHC format specifies.
func (p PHC) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.Memory,
		p.Time,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(p.Salt),
		base64.RawStdEncoding.EncodeToString(p.Key),
	)
}

// ParsePHC decodes an Argon2id PHC string. Padded base64 is accepted.
func ParsePHC(s string) (PHC, error) {
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return PHC{}, malformed("layout")
	}
	if parts[1] != algorithmID {
		return PHC{}, malformed("algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return PHC{}, malformed("version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return PHC{}, malformed("version")
	}

	var p PHC
	if err := p.parseParams(parts[3]); err != nil {
		return PHC{}, err
	}

	var err error
	if p.Salt, err = decodeB64(parts[4]); err != nil || len(p.Salt) < int(minSaltLength) {
		return PHC{}, malformed("salt")
	}
	if p.Key, err = decodeB64(parts[5]); err != nil || len(p.Key) == 0 {
		return PHC{}, malformed("key")
	}
	return p, nil
}

func (p *PHC) parseParams(s string) error {
	seen := map[string]bool{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return malformed("parameters")
		}
		seen[name] = true

		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return malformed("memory")
			}
			p.Memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return malformed("time")
			}
			p.Time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return malformed("parallelism")
			}
			p.Parallelism = uint8(v)
		default:
			return malformed("parameters")
		}
	}
	if len(seen) != 3 {
		return malformed("parameters")
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func malformed(part string) error {
	return fmt.Errorf("%w: %s", ErrMalformedHash, part)
}
