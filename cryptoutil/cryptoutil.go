// Package cryptoutil holds the small cryptographic primitives the engine
// needs outside of JOSE signing: pairwise subject derivation and
// constant-time credential comparison.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

// pad applies PKCS#7 padding, mirroring the block-alignment helper this
// package's AES routines are built on.
func pad(plaintext []byte, bsize int) []byte {
	padLen := bsize - (len(plaintext) % bsize)
	if padLen == 0 {
		padLen = bsize
	}
	out := make([]byte, len(plaintext)+padLen)
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// PairwiseSubject derives the `sub` claim for a pairwise-subject client per
// the fixed construction: AES-128-CBC with a zero IV over
// pad(sector_identifier || user.id || client.pairwise_salt), base64url
// encoded. pad is PKCS#7 padding of the whole concatenation to the AES block
// size; user.id itself is not padded to a fixed width. The zero IV is intentional: this must be a deterministic function
// of its inputs so the same user always maps to the same pairwise subject
// for a given sector/client, not a confidentiality-bearing ciphertext.
func PairwiseSubject(secretKey []byte, sectorIdentifier, userID, pairwiseSalt string) (string, error) {
	if len(secretKey) < 16 {
		return "", errors.New("cryptoutil: pairwise secret key must be at least 16 bytes")
	}
	key := secretKey[:16]

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	plaintext := pad([]byte(sectorIdentifier+userID+pairwiseSalt), aes.BlockSize)
	iv := make([]byte, aes.BlockSize) // zero IV, see doc comment above
	ciphertext := make([]byte, len(plaintext))

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, plaintext)

	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// ConstantTimeEqual reports whether a and b are equal using a timing-safe
// comparison, for checking client secrets and other shared credentials.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run one full constant-time comparison so a length mismatch
		// costs about as much as an equal-length mismatch.
		subtle.ConstantTimeCompare([]byte(b), []byte(b))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
