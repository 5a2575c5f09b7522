package crypto_test

import (
	"encoding/json"
	"testing"

	"github.com/rechain/configchain/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairSignVerify(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("some transaction bytes")
	sig := kp.Sign(data)

	assert.True(t, crypto.Verify(kp.Public, data, sig))
	assert.False(t, crypto.Verify(kp.Public, []byte("different bytes"), sig))
}

func TestLoadKeyPairFromSeed(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	reloaded, err := crypto.LoadKeyPair(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.Public, reloaded.Public)

	data := []byte("round trip check")
	assert.True(t, crypto.Verify(reloaded.Public, data, reloaded.Sign(data)))
}

func TestPublicKeyBase64RoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	encoded := kp.Public.String()
	parsed, err := crypto.ParsePublicKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, parsed)
}

func TestPublicKeyJSONRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data, err := json.Marshal(kp.Public)
	require.NoError(t, err)

	var out crypto.PublicKey
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, kp.Public, out)
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := crypto.HashBytes([]byte("content"))

	data, err := json.Marshal(h)
	require.NoError(t, err)

	var out crypto.Hash
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, h, out)
}

func TestPublicKeyLess(t *testing.T) {
	var a, b crypto.PublicKey
	a[0], b[0] = 0x01, 0x02
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestHashIsZero(t *testing.T) {
	var h crypto.Hash
	assert.True(t, h.IsZero())
	assert.False(t, crypto.HashBytes([]byte("x")).IsZero())
}
