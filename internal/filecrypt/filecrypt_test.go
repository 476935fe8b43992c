package filecrypt

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture captured from a real account: a 17-byte file stored as one shard.
const (
	fixtureMnemonic   = "index course habit soon assist dragon tragic helmet salute stuff later twice consider grit pulse cement obvious trick sponsor stereo hello win royal more"
	fixtureBucket     = "cd8abd7e8b13081660b58dbe"
	fixtureIndex      = "29f07b8914d8353b663ab783f4bbe9950fdde680a69524405790cecca9c549f9"
	fixtureKey        = "56bef5bdd9c81542d5c24b64e93fd5597c64b7bba7d45ba33e7d0e8cbe74e83e"
	fixtureIV         = "29f07b8914d8353b663ab783f4bbe995"
	fixtureCiphertext = "b6ccfa381c150f3a4b65245bffa4d84087"
	fixtureShardHash  = "a4fc32830aee362a407085f3683f20825a2b21ce"
	fixturePlaintext  = "encrypted-content"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()

	b, err := hex.DecodeString(s)
	require.NoError(t, err)

	return b
}

func TestFileKey_Fixture(t *testing.T) {
	t.Parallel()

	key, iv, err := FileKey(fixtureMnemonic, fixtureBucket, mustHex(t, fixtureIndex))
	require.NoError(t, err)

	assert.Equal(t, fixtureKey, hex.EncodeToString(key))
	assert.Equal(t, fixtureIV, hex.EncodeToString(iv))
}

func TestNewStreamAt_DecryptsFixture(t *testing.T) {
	t.Parallel()

	key, iv, err := FileKey(fixtureMnemonic, fixtureBucket, mustHex(t, fixtureIndex))
	require.NoError(t, err)

	stream, err := NewStreamAt(key, iv, 0)
	require.NoError(t, err)

	data := mustHex(t, fixtureCiphertext)
	stream.XORKeyStream(data, data)

	assert.Equal(t, fixturePlaintext, string(data))
}

func TestShardHash_Fixture(t *testing.T) {
	t.Parallel()

	assert.Equal(t, fixtureShardHash, ShardHash(mustHex(t, fixtureCiphertext)))
}

func TestNewStreamAt_OffsetsMatchContinuousStream(t *testing.T) {
	t.Parallel()

	key, iv, err := FileKey(fixtureMnemonic, fixtureBucket, mustHex(t, fixtureIndex))
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("0123456789abcdefghijklmnopqrstuvwxyz"), 50)

	whole := make([]byte, len(plain))
	stream, err := NewStreamAt(key, iv, 0)
	require.NoError(t, err)
	stream.XORKeyStream(whole, plain)

	for _, segment := range []int{1, 7, 16, 17, 100, 333, len(plain)} {
		pieces := make([]byte, 0, len(plain))

		for off := 0; off < len(plain); off += segment {
			end := min(off+segment, len(plain))

			s, err := NewStreamAt(key, iv, int64(off))
			require.NoError(t, err)

			out := make([]byte, end-off)
			s.XORKeyStream(out, plain[off:end])
			pieces = append(pieces, out...)
		}

		assert.Equal(t, whole, pieces, "segment size %d", segment)
	}
}

func TestAddCounter_CarriesAcrossHalves(t *testing.T) {
	t.Parallel()

	iv := mustHex(t, "0000000000000000ffffffffffffffff")
	assert.Equal(t, "00000000000000010000000000000000", hex.EncodeToString(addCounter(iv, 1)))

	allOnes := mustHex(t, "ffffffffffffffffffffffffffffffff")
	assert.Equal(t, "00000000000000000000000000000000", hex.EncodeToString(addCounter(allOnes, 1)))
}

func TestNewStreamAt_RejectsBadInput(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)

	_, err := NewStreamAt(key, make([]byte, IVSize), -1)
	require.Error(t, err)

	_, err = NewStreamAt(key, make([]byte, 8), 0)
	require.Error(t, err)

	_, err = NewStreamAt(make([]byte, 5), make([]byte, IVSize), 0)
	require.Error(t, err)
}

func TestBucketKey_RejectsNonHexBucket(t *testing.T) {
	t.Parallel()

	_, err := BucketKey(fixtureMnemonic, "not-hex")
	require.Error(t, err)
}

func TestValidateMnemonic(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateMnemonic(fixtureMnemonic))
	assert.ErrorIs(t, ValidateMnemonic("index course habit"), ErrInvalidMnemonic)
}

func TestNewIndex_Random(t *testing.T) {
	t.Parallel()

	a, err := NewIndex()
	require.NoError(t, err)

	b, err := NewIndex()
	require.NoError(t, err)

	assert.Len(t, a, IndexSize)
	assert.NotEqual(t, a, b)
}
