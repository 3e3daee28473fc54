package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway key (hardhat account #0).
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())

	at := time.Unix(1_750_000_000, 0)
	body := []byte(`{"outcome":"A","amount":"1000"}`)
	h, err := s.SignRequest("post", "/api/markets/1/stake", body, at)
	require.NoError(t, err)
	assert.Equal(t, s.Address().Hex(), h[HeaderAddress])
	assert.Equal(t, "1750000000", h[HeaderTimestamp])

	ts, err := strconv.ParseInt(h[HeaderTimestamp], 10, 64)
	require.NoError(t, err)
	got, err := RecoverRequest("POST", "/api/markets/1/stake", ts, body, h[HeaderSignature])
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	// A tampered body recovers to some other address.
	other, err := RecoverRequest("POST", "/api/markets/1/stake", ts, []byte(`{}`), h[HeaderSignature])
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestRecoverRejectsMalformed(t *testing.T) {
	_, err := RecoverRequest("GET", "/", 0, nil, "0x1234")
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = RecoverRequest("GET", "/", 0, nil, "zz")
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestEncryptedKeyFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
}

func TestLoadKeyPrecedence(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey, EncryptedKeyPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	_, err = LoadKey(KeyConfig{})
	assert.Error(t, err)
}

func TestDecryptKeyRejectsTamperedAddress(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	var kf keyFile
	require.NoError(t, json.Unmarshal(blob, &kf))
	kf.Address = common.HexToAddress("0x01")
	tampered, err := json.Marshal(kf)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "hunter2")
	assert.Error(t, err)
}

func TestEncryptKeyRejectsEmptyPassword(t *testing.T) {
	_, err := EncryptKey(testKey, "")
	assert.Error(t, err)
}
