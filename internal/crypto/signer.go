package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces secp256k1 signatures over canonical API request messages.
// Clients sign each request with their own key; the server recovers the
// caller's address from the signature, so no credential exchange is needed.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the canonical message for an API request and returns the
// hex-encoded 65-byte signature (r || s || v).
func (s *Signer) SignRequest(method, path string, body []byte, timestamp int64, nonce string) (string, error) {
	digest := requestDigest(method, path, body, timestamp, nonce)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wire format uses v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequestSigner recovers the address that signed an API request. The
// inputs must match exactly what the client signed; a mismatch yields a
// different (and unfunded) address rather than an explicit error, so callers
// should treat the result as the authenticated identity, nothing more.
func RecoverRequestSigner(method, path string, body []byte, timestamp int64, nonce, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decoding signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d bytes", len(sig))
	}

	// Normalise v back to {0,1} for go-ethereum.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	digest := requestDigest(method, path, body, timestamp, nonce)
	pub, err := ethcrypto.SigToPub(digest, recSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recovering public key: %w", err)
	}

	return ethcrypto.PubkeyToAddress(*pub), nil
}

// requestDigest builds the EIP-191 personal-message digest for a request.
// The canonical message is:
//
//	METHOD "\n" path "\n" hex(sha256(body)) "\n" timestamp "\n" nonce
//
// The body is hashed first so large payloads do not inflate the signed
// message, and an empty body hashes to a well-known constant.
func requestDigest(method, path string, body []byte, timestamp int64, nonce string) []byte {
	bodyHash := sha256.Sum256(body)

	msg := strings.Join([]string{
		strings.ToUpper(method),
		path,
		hex.EncodeToString(bodyHash[:]),
		strconv.FormatInt(timestamp, 10),
		nonce,
	}, "\n")

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return ethcrypto.Keccak256([]byte(prefixed))
}
