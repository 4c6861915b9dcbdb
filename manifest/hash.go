package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// hashDomain prefixes the canonical encoding so a permission hash can
// never collide with a digest of some other document.
const hashDomain = "warden.permissions.v1\n"

// Digest represents a content-addressable digest with algorithm and hex value.
type Digest struct {
	Algorithm string // "sha256"
	Hex       string // lowercase hex-encoded hash
}

// ParseDigest parses a digest string in "algorithm:hex" format.
// Only "sha256" is supported.
func ParseDigest(s string) (Digest, error) {
	alg, hexVal, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, fmt.Errorf("invalid digest format: missing algorithm prefix in %q", s)
	}
	if alg != "sha256" {
		return Digest{}, fmt.Errorf("unsupported digest algorithm: %q", alg)
	}
	if len(hexVal) != sha256.Size*2 {
		return Digest{}, fmt.Errorf("invalid sha256 hex length: got %d, want %d", len(hexVal), sha256.Size*2)
	}
	if _, err := hex.DecodeString(hexVal); err != nil {
		return Digest{}, fmt.Errorf("invalid hex in digest: %w", err)
	}
	return Digest{Algorithm: alg, Hex: strings.ToLower(hexVal)}, nil
}

// String returns the digest in "algorithm:hex" format.
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Algorithm + ":" + d.Hex
}

// IsZero reports whether d is the zero Digest.
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && d.Hex == ""
}

// MarshalText encodes the digest as "algorithm:hex".
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes an "algorithm:hex" string.
func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// canonicalPermissions fixes field order and the representation of absent
// fields (null) for hashing. Shell is flattened to its command set.
type canonicalPermissions struct {
	Network     []string          `json:"network"`
	Filesystem  []FilesystemGrant `json:"filesystem"`
	Environment []string          `json:"environment"`
	Clipboard   bool              `json:"clipboard"`
	Shell       []string          `json:"shell"`
}

// PermissionHash computes the content hash of a permission set. Sets are
// compared order-insensitively; filesystem grants are an ordered sequence
// and their order is significant. Paths are hashed exactly as declared.
func PermissionHash(p Permissions) Digest {
	cp := p
	if p.Shell != nil {
		shell := *p.Shell
		cp.Shell = &shell
	}
	cp.normalize()

	c := canonicalPermissions{
		Network:     cp.Network,
		Filesystem:  cp.Filesystem,
		Environment: cp.Environment,
		Clipboard:   cp.Clipboard,
	}
	if cp.Shell != nil {
		c.Shell = cp.Shell.Commands
	}

	// Marshalling plain strings, bools and slices cannot fail.
	data, _ := json.Marshal(c)
	h := sha256.New()
	h.Write([]byte(hashDomain))
	h.Write(data)
	return Digest{Algorithm: "sha256", Hex: hex.EncodeToString(h.Sum(nil))}
}
