package derive

import (
	"errors"
	"runtime"

	"github.com/btcsuite/btcd/btcec/v2"
)

var ErrInvalidSecret = errors.New("invalid secret key, expect 32 bytes in [1, N-1]")

// SecretKey owns the vault master key bytes.
// Pass it explicitly to whoever signs; call Zero when the owner is done.
type SecretKey struct {
	b []byte
}

// NewSecretKey copies raw into a new handle. The caller should wipe raw.
func NewSecretKey(raw []byte) (*SecretKey, error) {
	if len(raw) != 32 {
		return nil, ErrInvalidSecret
	}
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(raw); overflow || s.IsZero() {
		return nil, ErrInvalidSecret
	}
	s.Zero()

	sk := &SecretKey{b: make([]byte, 32)}
	copy(sk.b, raw)
	runtime.SetFinalizer(sk, func(k *SecretKey) { k.Zero() })
	return sk, nil
}

// privKey builds a btcec key from the handle.
// The returned key shares no memory with the handle.
func (k *SecretKey) privKey() (*btcec.PrivateKey, error) {
	if k == nil || k.b == nil {
		return nil, ErrInvalidSecret
	}
	priv, _ := btcec.PrivKeyFromBytes(k.b)
	return priv, nil
}

// PubKey returns the master public key.
func (k *SecretKey) PubKey() (*btcec.PublicKey, error) {
	priv, err := k.privKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	return priv.PubKey(), nil
}

// Zero wipes the key bytes. The handle is unusable afterwards.
func (k *SecretKey) Zero() {
	if k == nil || k.b == nil {
		return
	}
	for i := range k.b {
		k.b[i] = 0
	}
	k.b = nil
}

func (k *SecretKey) IsZeroed() bool {
	return k == nil || k.b == nil
}

func (k *SecretKey) String() string {
	return "SecretKey(redacted)"
}

func (k *SecretKey) GoString() string {
	return k.String()
}
