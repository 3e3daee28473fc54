package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations  = 480_000
	kdfSaltLen     = 16
	keyFileVersion = 2
)

// keyFile is the on-disk operator key. Address is stored in clear so a
// wrong password or a swapped file is caught before the key is used.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Salt       []byte         `json:"salt"`
	Nonce      []byte         `json:"nonce"`
	Ciphertext []byte         `json:"ciphertext"`
}

// KeyConfig is the [wallet] config section. A raw key wins over a key file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func keyAEAD(password string, salt []byte) (cipher.AEAD, error) {
	if password == "" {
		return nil, errors.New("crypto: empty key password")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: key cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptKey seals a hex secp256k1 key under password and returns the key
// file JSON. The derived address is bound into the ciphertext.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	kf := keyFile{
		Version: keyFileVersion,
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey),
		Salt:    make([]byte, kdfSaltLen),
	}
	if _, err := rand.Read(kf.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := keyAEAD(password, kf.Salt)
	if err != nil {
		return nil, err
	}
	kf.Nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(kf.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	kf.Ciphertext = aead.Seal(nil, kf.Nonce, ethcrypto.FromECDSA(pk), kf.Address.Bytes())
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey and returns the key as
// hex without a 0x prefix.
func DecryptKey(blob []byte, password string) (string, error) {
	var kf keyFile
	if err := json.Unmarshal(blob, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	aead, err := keyAEAD(password, kf.Salt)
	if err != nil {
		return "", err
	}
	if len(kf.Nonce) != aead.NonceSize() {
		return "", errors.New("crypto: key file nonce has wrong length")
	}
	raw, err := aead.Open(nil, kf.Nonce, kf.Ciphertext, kf.Address.Bytes())
	if err != nil {
		return "", fmt.Errorf("crypto: open key file (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return "", fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(pk.PublicKey); got != kf.Address {
		return "", fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address.Hex(), got.Hex())
	}
	return hex.EncodeToString(raw), nil
}

// LoadKey resolves the operator key hex from cfg.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto: raw private key is not hex: %w", err)
		}
		return k, nil
	case cfg.EncryptedKeyPath != "":
		blob, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(blob, cfg.KeyPassword)
	default:
		return "", errors.New("crypto: no operator key configured (wallet.private_key or wallet.encrypted_key_path)")
	}
}

// LoadSigner resolves the key described by cfg and wraps it in a Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	key, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}
