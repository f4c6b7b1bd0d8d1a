// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto implements post-quantum signing and verification, content
// hashing, and an optional hybrid classical+PQ mode. The post-quantum
// primitive is Ringtail (github.com/luxfi/crypto/ringtail), used the same
// way consensus/beam/quasar.go calls it for a single signer: precompute an
// offline share once per key pair, then QuickSign/VerifyShare per message.
// The classical fallback uses github.com/luxfi/crypto's BLS signatures; the
// content hash is BLAKE3 (github.com/zeebo/blake3).
package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/crypto/ringtail"
	"github.com/zeebo/blake3"

	"github.com/quorumdag/core/internal/errs"
)

// HashSize is the fixed digest size used throughout the system.
const HashSize = 32

// Hash computes the canonical 32-byte content hash of msg.
func Hash(msg []byte) [HashSize]byte {
	return blake3.Sum256(msg)
}

// KeyPair holds a node's post-quantum keys and, in hybrid mode, its
// classical BLS keys. The Ringtail precomputed share (pqPre) is derived
// once at key-generation time, the same offline/online split
// consensus/beam/quasar.go's newQuasar does, so Sign only ever pays the
// cheap QuickSign cost on the hot path.
type KeyPair struct {
	Hybrid bool

	pqSK  []byte
	pqPK  []byte
	pqPre ringtail.Precomp

	blsPriv *bls.SecretKey
	blsPub  *bls.PublicKey
}

// Signature pairs a post-quantum signature with an optional classical
// signature. Single-mode deployments leave Classical empty.
type Signature struct {
	PostQuantum []byte
	Classical   []byte
}

// GenerateKeyPair derives a fresh key pair. When hybrid is true, a classical
// BLS key pair is generated alongside the post-quantum one and both must
// verify for a signature to be accepted.
func GenerateKeyPair(hybrid bool) (*KeyPair, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, errs.Wrap(errs.Internal, "crypto: read random seed", err)
	}

	sk, pk, err := ringtail.KeyGen(seed)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "crypto: generate PQ key", err)
	}
	pre, err := ringtail.Precompute(sk)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "crypto: precompute PQ signing share", err)
	}

	kp := &KeyPair{Hybrid: hybrid, pqSK: sk, pqPK: pk, pqPre: pre}
	if hybrid {
		blsPriv, err := bls.SecretKeyFromSeed(seed)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "crypto: generate classical key", err)
		}
		kp.blsPriv = blsPriv
		kp.blsPub = blsPriv.PublicKey()
	}
	return kp, nil
}

// PublicKey is the set of published verification material for a node.
type PublicKey struct {
	PostQuantum []byte
	Classical   *bls.PublicKey // nil unless hybrid mode is enabled
}

// Public returns the public verification material for kp.
func (kp *KeyPair) Public() PublicKey {
	return PublicKey{PostQuantum: kp.pqPK, Classical: kp.blsPub}
}

// Sign produces a Signature over msg. Signing only fails on a degraded key
// source: an uninitialized key pair, or an underlying PQ/classical signer
// error.
func (kp *KeyPair) Sign(msg []byte) (Signature, error) {
	if len(kp.pqPre) == 0 {
		return Signature{}, errs.New(errs.Internal, "crypto: post-quantum key not initialized")
	}
	share, err := ringtail.QuickSign(kp.pqPre, msg)
	if err != nil {
		return Signature{}, errs.Wrap(errs.Internal, "crypto: PQ signing failed", err)
	}

	sig := Signature{PostQuantum: []byte(share)}
	if kp.Hybrid {
		if kp.blsPriv == nil {
			return Signature{}, errs.New(errs.Internal, "crypto: classical key not initialized in hybrid mode")
		}
		blsSig, err := kp.blsPriv.Sign(msg)
		if err != nil {
			return Signature{}, errs.Wrap(errs.Internal, "crypto: classical signing failed", err)
		}
		sig.Classical = bls.SignatureToBytes(blsSig)
	}
	return sig, nil
}

// Verify checks sig against msg under pk. A false result is not an error;
// malformed input produces an *errs.Error instead.
func Verify(pk PublicKey, msg []byte, sig Signature) (bool, error) {
	if len(sig.PostQuantum) == 0 {
		return false, errs.New(errs.InvalidInput, "crypto: empty post-quantum signature")
	}
	if len(pk.PostQuantum) == 0 {
		return false, errs.New(errs.InvalidInput, "crypto: missing post-quantum public key")
	}
	if !ringtail.VerifyShare(pk.PostQuantum, msg, sig.PostQuantum) {
		return false, nil
	}

	if pk.Classical == nil {
		// Single-mode deployment: PQ verification alone is authoritative.
		return true, nil
	}

	if len(sig.Classical) == 0 {
		return false, errs.New(errs.InvalidInput, "crypto: hybrid key requires a classical signature")
	}
	blsSig, err := bls.SignatureFromBytes(sig.Classical)
	if err != nil {
		return false, errs.Wrap(errs.InvalidInput, "crypto: malformed classical signature", err)
	}
	return bls.Verify(pk.Classical, blsSig, msg), nil
}

// DeriveNodeID returns the 32-byte node identifier for a public key, defined
// as the content hash of its canonical encoding.
func DeriveNodeID(pk PublicKey) ([HashSize]byte, error) {
	if len(pk.PostQuantum) == 0 {
		return [HashSize]byte{}, fmt.Errorf("crypto: public key has no bytes")
	}
	buf := append([]byte(nil), pk.PostQuantum...)
	if pk.Classical != nil {
		buf = append(buf, bls.PublicKeyToCompressedBytes(pk.Classical)...)
	}
	return Hash(buf), nil
}
