// Package crypto loads operator keys and signs or verifies API requests.
package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-Conviction-Address"
	HeaderTimestamp = "X-Conviction-Timestamp"
	HeaderSignature = "X-Conviction-Signature"
)

// ErrBadSignature is returned when a signature cannot be decoded or does not
// recover to the claimed address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer signs API requests with an EIP-191 personal message over the
// method, path, timestamp and body hash. The server recovers the caller
// identity from the signature.
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

// SignRequest returns the authentication headers for one request.
func (s *Signer) SignRequest(method, path string, body []byte, at time.Time) (map[string]string, error) {
	ts := at.Unix()
	sig, err := ethcrypto.Sign(RequestDigest(method, path, ts, body), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets produce {27,28}.
	sig[64] += 27

	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderSignature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// RequestDigest is the EIP-191 hash a request signature commits to:
//
//	personal_sign("conviction\n{METHOD}\n{path}\n{unix ts}\n{sha256(body) hex}")
func RequestDigest(method, path string, ts int64, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	msg := fmt.Sprintf("conviction\n%s\n%s\n%d\n%x", strings.ToUpper(method), path, ts, bodyHash)
	return accounts.TextHash([]byte(msg))
}

// RecoverRequest returns the address that produced sigHex over the request.
// Both {0,1} and {27,28} recovery bytes are accepted.
func RecoverRequest(method, path string, ts int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(RequestDigest(method, path, ts, body), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
