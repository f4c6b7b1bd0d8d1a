// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"fmt"

	"github.com/luxfi/ids"
)

// Kind tags the payload carried by an Envelope.
type Kind byte

const (
	KindPropose Kind = iota + 1
	KindQuery
	KindVoteAccept
	KindVoteReject
	KindPrePrepare
	KindPrepare
	KindCommit
	KindViewChange
	KindNewView
	KindBackfillRequest
	KindBackfillResponse
	KindHeartbeat
)

// Version is the current envelope wire version.
const Version byte = 1

// Envelope is the outer framing every peer message travels in: a version
// byte, a message-kind tag, the sender's 32-byte node id, the canonical
// payload bytes, and the sender's signature over (version||kind||sender||payload).
// Transport frames each Envelope with a 4-byte big-endian length prefix,
// which is the caller's responsibility rather than this package's.
type Envelope struct {
	Version   byte
	Kind      Kind
	Sender    ids.NodeID
	Payload   []byte
	Signature []byte
}

// SignableBytes returns the bytes a sender signs and a verifier checks
// against — everything in the envelope except the signature itself.
func (e *Envelope) SignableBytes() []byte {
	w := NewWriter(len(e.Payload) + 64)
	w.Byte(e.Version)
	w.Byte(byte(e.Kind))
	w.Bytes(e.Sender[:])
	w.Bytes(e.Payload)
	return w.Finish()
}

// Encode serializes the full envelope, including the signature, to bytes.
func (e *Envelope) Encode() []byte {
	w := NewWriter(len(e.Payload) + len(e.Signature) + 64)
	w.Byte(e.Version)
	w.Byte(byte(e.Kind))
	w.Bytes(e.Sender[:])
	w.Bytes(e.Payload)
	w.Bytes(e.Signature)
	return w.Finish()
}

// Decode parses an Envelope previously produced by Encode.
func Decode(buf []byte) (*Envelope, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("wire: envelope too short")
	}
	version := buf[0]
	kind := Kind(buf[1])
	r := NewReader(buf[2:])

	senderBytes, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("wire: decode sender: %w", err)
	}
	sender, err := ids.ToNodeID(senderBytes)
	if err != nil {
		return nil, fmt.Errorf("wire: invalid sender id: %w", err)
	}

	payload, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("wire: decode payload: %w", err)
	}

	sig, err := r.Bytes()
	if err != nil {
		return nil, fmt.Errorf("wire: decode signature: %w", err)
	}

	return &Envelope{
		Version:   version,
		Kind:      kind,
		Sender:    sender,
		Payload:   payload,
		Signature: sig,
	}, nil
}
