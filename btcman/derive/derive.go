/*
Per-deposit key derivation.

Every deposit address of the vault belongs to a business id. Its key is
the master key scaled by keccak256(masterPub || id):

	scale     = keccak256(uncompressed(P)[1:] || be(id)) mod N
	childPub  = scale * P
	childPriv = priv * scale mod N

The contract computes the same childPub on its side, so deposit addresses
can be assigned without ever talking to the vault.
*/
package derive

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TEENet-io/btc-vault/common"
)

var (
	ErrZeroTweak          = errors.New("derivation scale is zero mod N")
	ErrDerivationMismatch = errors.New("derived public key does not match derived private key")
)

// KeyPair is a derived signing key of one deposit address.
type KeyPair struct {
	ID      string
	PrivKey *btcec.PrivateKey
	PubKey  *btcec.PublicKey
}

// Zero wipes the private part.
func (kp *KeyPair) Zero() {
	if kp != nil && kp.PrivKey != nil {
		kp.PrivKey.Zero()
	}
}

// Address returns the P2WPKH deposit address of the pair.
func (kp *KeyPair) Address(cfg *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(kp.PubKey.SerializeCompressed()), cfg)
}

// Scale computes the derivation scalar for id, before reduction.
func Scale(masterPub *btcec.PublicKey, id string) ([]byte, error) {
	idBytes, err := common.IDToBytes(id)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(masterPub.SerializeUncompressed()[1:], idBytes), nil
}

// Derive returns the key pair of the deposit address tied to id.
func Derive(master *SecretKey, id string) (*KeyPair, error) {
	pub, err := master.PubKey()
	if err != nil {
		return nil, err
	}
	scale, err := Scale(pub, id)
	if err != nil {
		return nil, err
	}
	kp, err := DeriveWithScale(master, scale)
	if err != nil {
		return nil, fmt.Errorf("derive id=%s: %w", id, err)
	}
	kp.ID = id
	return kp, nil
}

// DeriveWithScale applies an explicit 32 byte scale to the master key.
func DeriveWithScale(master *SecretKey, scale []byte) (*KeyPair, error) {
	priv, err := master.privKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	var s btcec.ModNScalar
	s.SetByteSlice(scale)
	if s.IsZero() {
		return nil, ErrZeroTweak
	}

	// childPub = s * P
	var p, r btcec.JacobianPoint
	priv.PubKey().AsJacobian(&p)
	btcec.ScalarMultNonConst(&s, &p, &r)
	r.ToAffine()
	childPub := btcec.NewPublicKey(&r.X, &r.Y)

	// childPriv = priv * s mod N
	var k btcec.ModNScalar
	k.Mul2(&priv.Key, &s)
	childPriv := btcec.PrivKeyFromScalar(&k)
	k.Zero()

	if !childPriv.PubKey().IsEqual(childPub) {
		childPriv.Zero()
		return nil, ErrDerivationMismatch
	}

	return &KeyPair{PrivKey: childPriv, PubKey: childPub}, nil
}

// DepositAddress returns the bech32 address for id without exposing the
// private key to the caller.
func DepositAddress(master *SecretKey, id string, cfg *chaincfg.Params) (string, error) {
	kp, err := Derive(master, id)
	if err != nil {
		return "", err
	}
	defer kp.Zero()

	addr, err := kp.Address(cfg)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
