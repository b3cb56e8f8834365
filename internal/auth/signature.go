package auth

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const loginPrefix = "PropertyEscrow login"

// LoginMessage builds the message an address signs to obtain an API key.
// Format: "PropertyEscrow login|{address}|{unix seconds}"
func LoginMessage(addr string, at time.Time) string {
	return fmt.Sprintf("%s|%s|%d", loginPrefix, strings.ToLower(addr), at.Unix())
}

// ParseLoginMessage extracts the address and timestamp from a LoginMessage.
func ParseLoginMessage(msg string) (string, time.Time, error) {
	parts := strings.Split(msg, "|")
	if len(parts) != 3 || parts[0] != loginPrefix {
		return "", time.Time{}, ErrMalformedLogin
	}
	if !common.IsHexAddress(parts[1]) {
		return "", time.Time{}, fmt.Errorf("%w: bad address", ErrMalformedLogin)
	}
	sec, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: bad timestamp", ErrMalformedLogin)
	}
	return strings.ToLower(parts[1]), time.Unix(sec, 0), nil
}

// HashMessage returns the EIP-191 personal message hash of message.
func HashMessage(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256([]byte(prefix + message))
}

// RecoverAddress recovers the lowercase signer address from a hex-encoded
// 65 byte signature (r[32] + s[32] + v[1]).
func RecoverAddress(message, signatureHex string) (string, error) {
	signature, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(signature) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}
	// Wallets emit v as 27/28; Ecrecover wants 0/1.
	if signature[crypto.RecoveryIDOffset] >= 27 {
		signature[crypto.RecoveryIDOffset] -= 27
	}

	pubKey, err := crypto.SigToPub(HashMessage(message), signature)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pubKey).Hex()), nil
}

// VerifySignature checks that signatureHex over message was produced by expected.
func VerifySignature(message, signatureHex, expected string) error {
	recovered, err := RecoverAddress(message, signatureHex)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, expected) {
		return fmt.Errorf("recovered %s, expected %s", recovered, strings.ToLower(expected))
	}
	return nil
}
