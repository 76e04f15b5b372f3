package wallets

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"golang.org/x/crypto/sha3"
)

var ErrUnsupportedKey = errors.New("passkey public key is not an EC2 key")

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// AddressFromCoordinates derives an account address from uncompressed public key
// coordinates: the last 20 bytes of keccak256(x || y), EIP-55 checksummed.
func AddressFromCoordinates(x, y []byte) (string, error) {
	if len(x) > 32 || len(y) > 32 {
		return "", fmt.Errorf("coordinate longer than 32 bytes")
	}
	buf := make([]byte, 64)
	copy(buf[32-len(x):32], x)
	copy(buf[64-len(y):], y)
	hash := keccak256(buf)
	return ChecksumAddress(hex.EncodeToString(hash[12:])), nil
}

// AddressFromCOSEKey parses a COSE-encoded credential public key.
func AddressFromCOSEKey(key []byte) (string, error) {
	parsed, err := webauthncose.ParsePublicKey(key)
	if err != nil {
		return "", fmt.Errorf("parse passkey public key: %w", err)
	}
	switch k := parsed.(type) {
	case webauthncose.EC2PublicKeyData:
		return AddressFromCoordinates(k.XCoord, k.YCoord)
	case *webauthncose.EC2PublicKeyData:
		return AddressFromCoordinates(k.XCoord, k.YCoord)
	}
	return "", ErrUnsupportedKey
}

// ChecksumAddress applies EIP-55 mixed-case encoding to a hex address with or without 0x.
func ChecksumAddress(addr string) string {
	lower := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	hash := hex.EncodeToString(keccak256([]byte(lower)))

	var b strings.Builder
	b.WriteString("0x")
	for i, c := range lower {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			b.WriteRune(c - 32)
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}
