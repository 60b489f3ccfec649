package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// HashAlgorithms is a list of supported hashing algorithms.
var HashAlgorithms = []string{"md5", "sha1", "sha256", "sha512"}

// IsValidHashAlgo checks if the provided algorithm string is supported.
func IsValidHashAlgo(algo string) bool {
	for _, validAlgo := range HashAlgorithms {
		if strings.ToLower(algo) == validAlgo {
			return true
		}
	}
	return false
}

// New returns a fresh hash for algo.
func New(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
}

// GenerateHash calculates the hash of a file using the specified algorithm.
func GenerateHash(filePath, algo string) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseChecksum splits a server checksum of the form "algo:hexdigest".
// A bare digest is taken as sha256.
func ParseChecksum(sum string) (algo, digest string, err error) {
	algo, digest, found := strings.Cut(sum, ":")
	if !found {
		algo, digest = "sha256", sum
	}
	algo = strings.ToLower(algo)
	if !IsValidHashAlgo(algo) {
		return "", "", fmt.Errorf("unsupported hash algorithm: %s", algo)
	}
	if _, err := hex.DecodeString(digest); err != nil || digest == "" {
		return "", "", fmt.Errorf("invalid checksum digest: %q", digest)
	}
	return algo, strings.ToLower(digest), nil
}

// Verifier hashes what is written to it and compares the result with an expected checksum.
type Verifier struct {
	hash.Hash
	algo   string
	digest string
}

// NewVerifier parses sum and returns a Verifier for it.
func NewVerifier(sum string) (*Verifier, error) {
	algo, digest, err := ParseChecksum(sum)
	if err != nil {
		return nil, err
	}
	h, err := New(algo)
	if err != nil {
		return nil, err
	}
	return &Verifier{Hash: h, algo: algo, digest: digest}, nil
}

// Verify reports an error if the written bytes do not match the expected checksum.
func (v *Verifier) Verify() error {
	got := hex.EncodeToString(v.Sum(nil))
	if got != v.digest {
		return fmt.Errorf("%s checksum mismatch: expected %s, got %s", v.algo, v.digest, got)
	}
	return nil
}
