// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vertex defines the Vertex, Edge and Metadata types shared by the
// DAG store, confidence tracker, finality detector, and BFT phase engine:
// a content-addressed parent list plus opaque payload, generalized with a
// creator signature and timestamp fields authorization decisions need.
package vertex

import (
	"time"

	"github.com/luxfi/ids"

	"github.com/quorumdag/core/internal/crypto"
	"github.com/quorumdag/core/internal/wire"
)

// Vertex is the unit of consensus and storage.
type Vertex struct {
	Hash      ids.ID   // derived, never field-injected
	Parents   []ids.ID // empty only for the genesis vertex
	Payload   []byte
	Timestamp int64 // creator-assigned, monotonic per creator
	Creator   ids.NodeID
	Signature crypto.Signature
}

// signableFields returns the canonical encoding of every field except Hash
// and Signature — the bytes that are hashed to derive identity and signed
// by the creator.
func (v *Vertex) signableFields() []byte {
	parentBytes := make([][]byte, len(v.Parents))
	for i, p := range v.Parents {
		parentBytes[i] = p[:]
	}
	w := wire.NewWriter(len(v.Payload) + 64)
	w.BytesList(parentBytes)
	w.Bytes(v.Payload)
	w.Uint64(uint64(v.Timestamp))
	w.Bytes(v.Creator[:])
	return w.Finish()
}

// ComputeHash derives the vertex's content-addressed identity: the content
// hash over the canonical serialization of every field but Hash and
// Signature.
func (v *Vertex) ComputeHash() ids.ID {
	digest := crypto.Hash(v.signableFields())
	id, _ := ids.ToID(digest[:])
	return id
}

// New builds a Vertex, computing and setting its Hash. Creators must still
// call Sign to attach a valid signature before propagation.
func New(parents []ids.ID, payload []byte, timestamp int64, creator ids.NodeID) *Vertex {
	v := &Vertex{
		Parents:   parents,
		Payload:   payload,
		Timestamp: timestamp,
		Creator:   creator,
	}
	v.Hash = v.ComputeHash()
	return v
}

// Sign signs the vertex's hash with kp and attaches the signature.
func (v *Vertex) Sign(kp *crypto.KeyPair) error {
	sig, err := kp.Sign(v.Hash[:])
	if err != nil {
		return err
	}
	v.Signature = sig
	return nil
}

// VerifySignature checks the creator's signature over the vertex hash
// under the given public key.
func VerifySignature(v *Vertex, creatorKey crypto.PublicKey) (bool, error) {
	return crypto.Verify(creatorKey, v.Hash[:], v.Signature)
}

// IsGenesis reports whether v has no parents.
func (v *Vertex) IsGenesis() bool {
	return len(v.Parents) == 0
}

// Edge is the implicit (parent, child) relation derived from a vertex's
// parent list. It has no independent lifecycle; the DAG store maintains a
// reverse index of edges for child lookups.
type Edge struct {
	Parent ids.ID
	Child  ids.ID
}

// Metadata is mutated only by the finality detector; every other reader
// treats it as read-only.
type Metadata struct {
	Height            uint64
	Finalized         bool
	FinalizedAt       time.Time
	FinalizedSequence uint64
	Rejected          bool
	RejectedCause     string
	CachedSignature   crypto.Signature
}
