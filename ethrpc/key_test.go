package ethrpc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/custos/errors"
)

// Well known throw-away key, never fund it.
const testKeyHex = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce9c46f30d7d21715b23b1d"

func TestKeyFromHex(t *testing.T) {
	for _, repr := range []string{
		testKeyHex,
		"0x" + testKeyHex,
		"  " + testKeyHex + "\n",
	} {
		key, err := KeyFromHex(repr)
		require.NoError(t, err, repr)
		assert.Equal(t, "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1", key.Address().Hex())
	}

	_, err := KeyFromHex("not hex")
	require.True(t, errors.ErrInput.Is(err), "got %+v", err)
}

func TestLoadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broadcaster.key")
	require.NoError(t, os.WriteFile(path, []byte("0x"+testKeyHex+"\n"), 0600))

	key, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1", key.Address().Hex())

	_, err = LoadKeyFile(filepath.Join(t.TempDir(), "missing"))
	require.True(t, errors.ErrInput.Is(err), "got %+v", err)
}

func TestSignHashRecoversToAddress(t *testing.T) {
	key, err := KeyFromHex(testKeyHex)
	require.NoError(t, err)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("payload")))

	sig, err := key.SignHash(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.True(t, sig[64] == 27 || sig[64] == 28)

	sig[64] -= 27
	pub, err := crypto.SigToPub(digest[:], sig)
	require.NoError(t, err)
	assert.Equal(t, key.Address(), crypto.PubkeyToAddress(*pub))
}
