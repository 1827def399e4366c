// Package verify checks artifacts against their expected content digests.
package verify

import (
	"crypto/md5" //nolint:gosec // legacy dataset tables publish md5 sums
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/glorpus-work/datasets/pkg/errors"
)

// Algorithm names a supported content hash.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA384 Algorithm = "sha384"
	SHA512 Algorithm = "sha512"
	MD5    Algorithm = "md5"

	// DefaultAlgorithm is used for checksums without an explicit "algo:" prefix.
	DefaultAlgorithm = SHA256
)

var hexLen = map[Algorithm]int{
	SHA256: 64,
	SHA384: 96,
	SHA512: 128,
	MD5:    32,
}

// Algorithms returns the supported algorithm names.
func Algorithms() []string {
	return []string{string(SHA256), string(SHA384), string(SHA512), string(MD5)}
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := hexLen[alg]; !ok {
		return "", errors.ErrInvalidAlgorithmWithDetails(name, Algorithms())
	}
	return alg, nil
}

// Checksum is a parsed expected digest.
type Checksum struct {
	Algorithm Algorithm
	Hex       string
}

func (c Checksum) String() string {
	return string(c.Algorithm) + ":" + c.Hex
}

// ParseChecksum parses "hex" or "algo:hex". Bare hex uses def. The hex part is
// lower-cased so comparison is case-insensitive.
func ParseChecksum(s string, def Algorithm) (Checksum, error) {
	s = strings.TrimSpace(s)
	alg := def
	encoded := s
	if name, rest, ok := strings.Cut(s, ":"); ok {
		parsed, err := ParseAlgorithm(name)
		if err != nil {
			return Checksum{}, fmt.Errorf("%w: %q: %w", errors.ErrInvalidChecksum, s, err)
		}
		alg, encoded = parsed, rest
	}
	encoded = strings.ToLower(encoded)
	if len(encoded) != hexLen[alg] {
		return Checksum{}, fmt.Errorf("%w: %q: want %d hex characters for %s", errors.ErrInvalidChecksum, s, hexLen[alg], alg)
	}
	if _, err := hex.DecodeString(encoded); err != nil {
		return Checksum{}, fmt.Errorf("%w: %q: %w", errors.ErrInvalidChecksum, s, err)
	}
	return Checksum{Algorithm: alg, Hex: encoded}, nil
}

// Verifier checks an artifact against an expected checksum.
//
//go:generate mockgen -source=verify.go -destination=./mocks/verify.go -package=mocks
type Verifier interface {
	// Verify reports whether the content of path matches expected. A mismatch
	// is (false, nil); an error means the file could not be read or the
	// checksum is malformed.
	Verify(path, expected string) (bool, error)
}

// DigestVerifier hashes the whole artifact and compares it to the expected digest.
type DigestVerifier struct {
	defaultAlgorithm Algorithm
}

// NewVerifier returns a verifier using def for checksums without an algorithm
// prefix. An empty def selects DefaultAlgorithm.
func NewVerifier(def string) (*DigestVerifier, error) {
	if def == "" {
		return &DigestVerifier{defaultAlgorithm: DefaultAlgorithm}, nil
	}
	alg, err := ParseAlgorithm(def)
	if err != nil {
		return nil, err
	}
	return &DigestVerifier{defaultAlgorithm: alg}, nil
}

// DefaultAlgorithm returns the algorithm applied to bare checksums.
func (v *DigestVerifier) DefaultAlgorithm() Algorithm {
	return v.defaultAlgorithm
}

// Verify implements Verifier. The file is always read to the end.
func (v *DigestVerifier) Verify(path, expected string) (bool, error) {
	sum, err := ParseChecksum(expected, v.defaultAlgorithm)
	if err != nil {
		return false, err
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("%w: open %s for checksum: %w", errors.ErrIO, path, err)
	}
	defer func() { _ = f.Close() }()

	if sum.Algorithm == MD5 {
		h := md5.New() //nolint:gosec
		if _, err := io.Copy(h, f); err != nil {
			return false, fmt.Errorf("%w: hashing %s: %w", errors.ErrIO, path, err)
		}
		return hex.EncodeToString(h.Sum(nil)) == sum.Hex, nil
	}

	d := digest.NewDigestFromEncoded(digest.Algorithm(sum.Algorithm), sum.Hex)
	if err := d.Validate(); err != nil {
		return false, fmt.Errorf("%w: %q: %w", errors.ErrInvalidChecksum, expected, err)
	}
	verifier := d.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return false, fmt.Errorf("%w: hashing %s: %w", errors.ErrIO, path, err)
	}
	return verifier.Verified(), nil
}

// Compute returns the "algo:hex" checksum of the file at path.
func Compute(path string, alg Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %w", errors.ErrIO, path, err)
	}
	defer func() { _ = f.Close() }()
	return ComputeReader(f, alg)
}

// ComputeReader returns the "algo:hex" checksum of everything read from r.
func ComputeReader(r io.Reader, alg Algorithm) (string, error) {
	if alg == MD5 {
		h := md5.New() //nolint:gosec
		if _, err := io.Copy(h, r); err != nil {
			return "", fmt.Errorf("%w: %w", errors.ErrIO, err)
		}
		return string(MD5) + ":" + hex.EncodeToString(h.Sum(nil)), nil
	}
	if _, ok := hexLen[alg]; !ok {
		return "", errors.ErrInvalidAlgorithmWithDetails(string(alg), Algorithms())
	}
	d, err := digest.Algorithm(alg).FromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrIO, err)
	}
	return d.String(), nil
}
