// Package filecrypt implements the per-file encryption scheme used by the
// remote object store: AES-256-CTR keyed from the account mnemonic, the
// bucket and a random per-file index, plus the content hash that shard
// descriptors carry.
package filecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // shard hashes are defined as RIPEMD-160 over SHA-256
)

// IndexSize is the length of the random per-file index. The first
// IVSize bytes of the index double as the CTR initial counter block.
const IndexSize = 32

// IVSize is the AES block size used as the CTR counter block.
const IVSize = aes.BlockSize

// KeySize selects AES-256.
const KeySize = 32

// ErrInvalidMnemonic is returned when a mnemonic fails BIP-39 validation.
var ErrInvalidMnemonic = errors.New("filecrypt: invalid mnemonic")

// NewIndex returns a fresh random file index.
func NewIndex() ([]byte, error) {
	index := make([]byte, IndexSize)
	if _, err := rand.Read(index); err != nil {
		return nil, fmt.Errorf("filecrypt: generating index: %w", err)
	}

	return index, nil
}

// ValidateMnemonic checks the word list and checksum of a BIP-39 mnemonic.
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}

	return nil
}

// BucketKey derives the 64-byte bucket key: SHA-512(seed || bucketID), where
// seed is the BIP-39 seed of the mnemonic and bucketID is hex-decoded.
func BucketKey(mnemonic, bucketID string) ([]byte, error) {
	bucket, err := hex.DecodeString(bucketID)
	if err != nil {
		return nil, fmt.Errorf("filecrypt: bucket id %q is not hex: %w", bucketID, err)
	}

	seed := bip39.NewSeed(mnemonic, "")

	h := sha512.New()
	h.Write(seed)
	h.Write(bucket)

	return h.Sum(nil), nil
}

// FileKey derives the AES-256 key and CTR IV for one file. The key is the
// first 32 bytes of SHA-512(bucketKey[:32] || index); the IV is index[:16].
func FileKey(mnemonic, bucketID string, index []byte) (key, iv []byte, err error) {
	if len(index) < IVSize {
		return nil, nil, fmt.Errorf("filecrypt: index too short (%d bytes)", len(index))
	}

	bucketKey, err := BucketKey(mnemonic, bucketID)
	if err != nil {
		return nil, nil, err
	}

	h := sha512.New()
	h.Write(bucketKey[:KeySize])
	h.Write(index)

	key = h.Sum(nil)[:KeySize]
	iv = make([]byte, IVSize)
	copy(iv, index[:IVSize])

	return key, iv, nil
}

// NewStreamAt returns an AES-CTR keystream positioned at byte offset of the
// file. Encrypting and decrypting are the same operation, so shards can be
// processed independently and in any order.
func NewStreamAt(key, iv []byte, offset int64) (cipher.Stream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("filecrypt: negative offset %d", offset)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("filecrypt: creating cipher: %w", err)
	}

	if len(iv) != IVSize {
		return nil, fmt.Errorf("filecrypt: iv must be %d bytes, got %d", IVSize, len(iv))
	}

	counter := addCounter(iv, uint64(offset/IVSize))
	stream := cipher.NewCTR(block, counter)

	if skip := int(offset % IVSize); skip > 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}

	return stream, nil
}

// addCounter adds n to the 128-bit big-endian counter block iv, wrapping
// modulo 2^128 like the CTR increment itself.
func addCounter(iv []byte, n uint64) []byte {
	out := make([]byte, IVSize)
	copy(out, iv)

	hi := binary.BigEndian.Uint64(out[:8])
	lo := binary.BigEndian.Uint64(out[8:])

	sum := lo + n
	if sum < lo {
		hi++
	}

	binary.BigEndian.PutUint64(out[:8], hi)
	binary.BigEndian.PutUint64(out[8:], sum)

	return out
}

// ShardHash returns hex(RIPEMD-160(SHA-256(ciphertext))), the content hash
// the network API stores per shard.
func ShardHash(ciphertext []byte) string {
	sum := sha256.Sum256(ciphertext)

	r := ripemd160.New()
	r.Write(sum[:])

	return hex.EncodeToString(r.Sum(nil))
}
