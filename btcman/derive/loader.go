package derive

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SourceEnv  = "env"
	SourceFile = "file"

	saltSize         = 16
	DefaultKDFRounds = 100_000
)

var (
	ErrUnknownKeyFormat = errors.New("btc key has unknown format")
	ErrUnknownKeySource = errors.New("unknown key source")
	ErrDecryptKey       = errors.New("cannot decrypt key file, wrong password?")
)

// BIP44 path used for mnemonics, m/44'/0'/0'/0/0.
var mnemonicPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 0,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

type LoaderConfig struct {
	Source   string // env or file
	Key      string // the key itself when Source is env
	FilePath string // encrypted key file when Source is file
	Password string
	Rounds   int // pbkdf2 rounds, DefaultKDFRounds if zero
}

// LoadMasterKey reads the vault master key from the configured source.
func LoadMasterKey(cfg *LoaderConfig) (*SecretKey, error) {
	switch cfg.Source {
	case SourceEnv:
		return ParseMasterKey(cfg.Key)
	case SourceFile:
		data, err := os.ReadFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		plain, err := DecryptKey(strings.TrimSpace(string(data)), cfg.Password, cfg.Rounds)
		if err != nil {
			return nil, err
		}
		defer wipe(plain)
		return ParseMasterKey(string(plain))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeySource, cfg.Source)
	}
}

// ParseMasterKey accepts 64 char hex, WIF, xprv/tprv or a bip39 mnemonic.
func ParseMasterKey(key string) (*SecretKey, error) {
	key = strings.TrimSpace(key)

	switch {
	case isHex(key):
		raw, err := hex.DecodeString(key)
		if err != nil {
			return nil, err
		}
		defer wipe(raw)
		return NewSecretKey(raw)

	case isExtended(key):
		ext, err := bip32.B58Deserialize(key)
		if err != nil {
			return nil, err
		}
		if !ext.IsPrivate {
			return nil, fmt.Errorf("%w: extended public key", ErrUnknownKeyFormat)
		}
		defer wipe(ext.Key)
		return NewSecretKey(ext.Key)

	case isWIF(key):
		wif, err := btcutil.DecodeWIF(key)
		if err != nil {
			return nil, err
		}
		raw := wif.PrivKey.Serialize()
		wif.PrivKey.Zero()
		defer wipe(raw)
		return NewSecretKey(raw)

	case len(strings.Fields(key)) >= 12:
		seed, err := bip39.NewSeedWithErrorChecking(key, "")
		if err != nil {
			return nil, err
		}
		defer wipe(seed)
		next, err := bip32.NewMasterKey(seed)
		if err != nil {
			return nil, err
		}
		for _, idx := range mnemonicPath {
			if next, err = next.NewChildKey(idx); err != nil {
				return nil, err
			}
		}
		defer wipe(next.Key)
		return NewSecretKey(next.Key)
	}

	return nil, ErrUnknownKeyFormat
}

// EncryptKey seals a key string with a password.
// Output is hex(salt | nonce | ciphertext).
func EncryptKey(plain []byte, password string, rounds int) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(kdf(password, salt, rounds))
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out := append(salt, nonce...)
	out = aead.Seal(out, nonce, plain, nil)
	return hex.EncodeToString(out), nil
}

func DecryptKey(sealed string, password string, rounds int) ([]byte, error) {
	data, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, err
	}
	if len(data) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, ErrDecryptKey
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]

	aead, err := chacha20poly1305.NewX(kdf(password, salt, rounds))
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, data[saltSize+chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, ErrDecryptKey
	}
	return plain, nil
}

func kdf(password string, salt []byte, rounds int) []byte {
	if rounds <= 0 {
		rounds = DefaultKDFRounds
	}
	return pbkdf2.Key([]byte(password), salt, rounds, chacha20poly1305.KeySize, sha256.New)
}

func isHex(key string) bool {
	if len(key) != 64 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

func isExtended(key string) bool {
	return strings.HasPrefix(key, "xprv") || strings.HasPrefix(key, "tprv")
}

func isWIF(key string) bool {
	return (len(key) == 51 || len(key) == 52) && !strings.Contains(key, " ")
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
