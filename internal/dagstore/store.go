// Copyright (C) 2025, QuorumDAG Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dagstore implements the persistent, content-addressed vertex and
// DAG store: vertex bodies, parent/child edges, metadata, and height,
// timestamp, and finalization indices, each in their own key namespace over
// a database.Database-backed KV engine keyed by ids.ID, plus an in-memory
// mirror of tips and children for fast traversal. Snapshot and Restore back
// up and recover all six namespaces as a single archive.
package dagstore

import (
	"context"
	"encoding/binary"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/quorumdag/core/internal/errs"
	"github.com/quorumdag/core/internal/vertex"
	"github.com/quorumdag/core/internal/wire"
)

// Namespace prefixes, one byte each.
const (
	nsVertexBody byte = iota
	nsEdge
	nsMetadata
	nsHeightIndex
	nsTimestampIndex
	nsFinalizedIndex
)

// Store is the exclusive owner of persistent vertex state. Writes are
// durable before Put returns; readers observe either the old or the new
// state, never a partial write.
type Store struct {
	mu sync.RWMutex

	db  database.Database
	log log.Logger

	// In-memory indices mirror what is durable, rebuilt from a snapshot by
	// Restore and kept consistent with every write under mu. New starts
	// them empty and does not scan db.
	children map[ids.ID][]ids.ID
	tips     map[ids.ID]struct{}
	all      map[ids.ID]struct{}

	// finalizedCount and headHash track the tail of the finalized index (namespace 6),
	// which Snapshot records in its manifest and Restore reconstructs.
	// Sequences are assumed consecutive from 0, as required by §6.
	finalizedCount uint64
	headHash       ids.ID
}

// New opens a Store over db. db must already be durable-backed (e.g. a
// write-ahead-logged KV engine); Store does not itself implement the WAL —
// it relies on the database implementation replaying on recovery.
func New(db database.Database, logger log.Logger) *Store {
	return &Store{
		db:       db,
		log:      logger,
		children: make(map[ids.ID][]ids.ID),
		tips:     make(map[ids.ID]struct{}),
		all:      make(map[ids.ID]struct{}),
	}
}

func vertexKey(ns byte, id ids.ID) []byte {
	key := make([]byte, 1+len(id))
	key[0] = ns
	copy(key[1:], id[:])
	return key
}

func edgeKey(parent, child ids.ID) []byte {
	key := make([]byte, 1+len(parent)+len(child))
	key[0] = nsEdge
	copy(key[1:], parent[:])
	copy(key[1+len(parent):], child[:])
	return key
}

func heightKey(h uint64) []byte {
	key := make([]byte, 9)
	key[0] = nsHeightIndex
	binary.BigEndian.PutUint64(key[1:], h)
	return key
}

func finalizedKey(seq uint64) []byte {
	key := make([]byte, 9)
	key[0] = nsFinalizedIndex
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

func timestampKey(ts uint64) []byte {
	key := make([]byte, 9)
	key[0] = nsTimestampIndex
	binary.BigEndian.PutUint64(key[1:], ts)
	return key
}

// PutVertex writes a vertex, its metadata, and its parent edges atomically.
// A duplicate put of the same hash is a no-op success.
func (s *Store) PutVertex(v *vertex.Vertex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if has, err := s.db.Has(vertexKey(nsVertexBody, v.Hash)); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: has check failed", err)
	} else if has {
		return nil
	}

	height := uint64(0)
	for _, p := range v.Parents {
		meta, err := s.getMetadataLocked(p)
		if err != nil {
			return errs.Wrap(errs.ParentMissing, "dagstore: parent not found: "+p.String(), err)
		}
		if meta.Height+1 > height {
			height = meta.Height + 1
		}
	}

	batch := s.db.NewBatch()
	body := wire.NewWriter(len(v.Payload) + 128)
	body.Bytes(v.Payload)
	body.Uint64(uint64(v.Timestamp))
	body.Bytes(v.Creator[:])
	body.Bytes(v.Signature.PostQuantum)
	body.Bytes(v.Signature.Classical)
	parentBytes := make([][]byte, len(v.Parents))
	for i, p := range v.Parents {
		parentBytes[i] = p[:]
	}
	body.BytesList(parentBytes)

	if err := batch.Put(vertexKey(nsVertexBody, v.Hash), body.Finish()); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put vertex body", err)
	}

	meta := wire.NewWriter(32)
	meta.Uint64(height)
	meta.Byte(0) // flags: neither finalized nor rejected
	if err := batch.Put(vertexKey(nsMetadata, v.Hash), meta.Finish()); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put metadata", err)
	}
	heightList := [][]byte{v.Hash[:]}
	if existing, err := s.db.Get(heightKey(height)); err == nil {
		r := wire.NewReader(existing)
		prior, err := r.BytesList()
		if err != nil {
			return errs.Wrap(errs.InvariantViolation, "dagstore: corrupt height index", err)
		}
		heightList = append(prior, v.Hash[:])
	}
	heightEncoded := wire.NewWriter(len(heightList) * (len(v.Hash) + 4))
	heightEncoded.BytesList(heightList)
	if err := batch.Put(heightKey(height), heightEncoded.Finish()); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put height index", err)
	}

	ts := uint64(v.Timestamp)
	tsList := [][]byte{v.Hash[:]}
	if existing, err := s.db.Get(timestampKey(ts)); err == nil {
		r := wire.NewReader(existing)
		prior, err := r.BytesList()
		if err != nil {
			return errs.Wrap(errs.InvariantViolation, "dagstore: corrupt timestamp index", err)
		}
		tsList = append(prior, v.Hash[:])
	}
	tsEncoded := wire.NewWriter(len(tsList) * (len(v.Hash) + 4))
	tsEncoded.BytesList(tsList)
	if err := batch.Put(timestampKey(ts), tsEncoded.Finish()); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put timestamp index", err)
	}

	for _, p := range v.Parents {
		if err := batch.Put(edgeKey(p, v.Hash), nil); err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: put edge", err)
		}
	}

	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: batch write", err)
	}

	for _, p := range v.Parents {
		s.children[p] = append(s.children[p], v.Hash)
		delete(s.tips, p)
	}
	s.tips[v.Hash] = struct{}{}
	s.all[v.Hash] = struct{}{}

	s.log.Debug("put vertex", log.String("hash", v.Hash.String()), log.Uint64("height", height))
	return nil
}

// GetVertex returns the vertex stored under hash.
func (s *Store) GetVertex(hash ids.ID) (*vertex.Vertex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getVertexLocked(hash)
}

func (s *Store) getVertexLocked(hash ids.ID) (*vertex.Vertex, error) {
	raw, err := s.db.Get(vertexKey(nsVertexBody, hash))
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "dagstore: get vertex", err)
	}
	r := wire.NewReader(raw)
	payload, err := r.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt vertex record", err)
	}
	ts, err := r.Uint64()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt vertex record", err)
	}
	creatorBytes, err := r.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt vertex record", err)
	}
	creator, err := ids.ToNodeID(creatorBytes)
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt creator id", err)
	}
	pqSig, err := r.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt vertex record", err)
	}
	classicalSig, err := r.Bytes()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt vertex record", err)
	}
	parentBytes, err := r.BytesList()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt vertex record", err)
	}
	parents := make([]ids.ID, len(parentBytes))
	for i, pb := range parentBytes {
		parents[i], _ = ids.ToID(pb)
	}

	v := &vertex.Vertex{
		Hash:      hash,
		Parents:   parents,
		Payload:   payload,
		Timestamp: int64(ts),
		Creator:   creator,
	}
	v.Signature.PostQuantum = pqSig
	v.Signature.Classical = classicalSig
	return v, nil
}

func (s *Store) getMetadataLocked(hash ids.ID) (*vertex.Metadata, error) {
	raw, err := s.db.Get(vertexKey(nsMetadata, hash))
	if err != nil {
		return nil, err
	}
	return decodeMetadata(raw)
}

const (
	flagFinalized byte = 1 << iota
	flagRejected
)

func decodeMetadata(raw []byte) (*vertex.Metadata, error) {
	r := wire.NewReader(raw)
	height, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	flags, err := r.Byte()
	if err != nil {
		return nil, err
	}
	m := &vertex.Metadata{Height: height, Finalized: flags&flagFinalized != 0, Rejected: flags&flagRejected != 0}
	if m.Finalized {
		seq, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		ts, err := r.Uint64()
		if err != nil {
			return nil, err
		}
		m.FinalizedSequence = seq
		m.FinalizedAt = time.Unix(int64(ts), 0).UTC()
	}
	if m.Rejected {
		cause, err := r.String()
		if err != nil {
			return nil, err
		}
		m.RejectedCause = cause
	}
	return m, nil
}

// GetMetadata returns the metadata recorded for hash.
func (s *Store) GetMetadata(hash ids.ID) (*vertex.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(vertexKey(nsMetadata, hash))
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "dagstore: get metadata", err)
	}
	return decodeMetadata(raw)
}

// HasVertex reports whether a vertex body is stored for hash.
func (s *Store) HasVertex(hash ids.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	has, err := s.db.Has(vertexKey(nsVertexBody, hash))
	if err != nil {
		return false, errs.Wrap(errs.StorageUnavailable, "dagstore: has check failed", err)
	}
	return has, nil
}

// GetChildren returns the known children of hash.
func (s *Store) GetChildren(hash ids.ID) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ID, len(s.children[hash]))
	copy(out, s.children[hash])
	return out
}

// GetParents returns the parent list recorded on the vertex.
func (s *Store) GetParents(hash ids.ID) ([]ids.ID, error) {
	v, err := s.GetVertex(hash)
	if err != nil {
		return nil, err
	}
	return v.Parents, nil
}

// VerticesAtHeight returns every vertex hash recorded at height h. A DAG
// routinely has more than one vertex at the same height, unlike a chain.
func (s *Store) VerticesAtHeight(h uint64) ([]ids.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(heightKey(h))
	if err != nil {
		return nil, nil // no entries recorded at this height
	}
	r := wire.NewReader(raw)
	entries, err := r.BytesList()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt height index", err)
	}
	out := make([]ids.ID, len(entries))
	for i, e := range entries {
		id, err := ids.ToID(e)
		if err != nil {
			return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt height index entry", err)
		}
		out[i] = id
	}
	return out, nil
}

// VerticesAtTimestamp returns every vertex hash recorded with creator
// timestamp ts (unix seconds).
func (s *Store) VerticesAtTimestamp(ts uint64) ([]ids.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.db.Get(timestampKey(ts))
	if err != nil {
		return nil, nil // no entries recorded at this timestamp
	}
	r := wire.NewReader(raw)
	entries, err := r.BytesList()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt timestamp index", err)
	}
	out := make([]ids.ID, len(entries))
	for i, e := range entries {
		id, err := ids.ToID(e)
		if err != nil {
			return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt timestamp index entry", err)
		}
		out[i] = id
	}
	return out, nil
}

// Tips returns vertices that are not yet the parent of any known vertex.
func (s *Store) Tips() []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ID, 0, len(s.tips))
	for id := range s.tips {
		out = append(out, id)
	}
	return out
}

// MarkFinalized sets the finalization flag and records the sequence and
// timestamp. It returns an InvariantViolation error, and writes nothing,
// if any parent is not already finalized.
func (s *Store) MarkFinalized(hash ids.ID, sequence uint64, nowUnix int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.getVertexLocked(hash)
	if err != nil {
		return err
	}
	for _, p := range v.Parents {
		pm, err := s.getMetadataLocked(p)
		if err != nil {
			return errs.Wrap(errs.ParentMissing, "dagstore: parent metadata missing for "+p.String(), err)
		}
		if !pm.Finalized {
			return errs.New(errs.InvariantViolation, "dagstore: finalizing "+hash.String()+" before parent "+p.String()+" is finalized")
		}
	}

	existing, err := s.getMetadataLocked(hash)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: read metadata before finalize", err)
	}
	if existing.Rejected {
		return errs.New(errs.InvariantViolation, "dagstore: finalizing "+hash.String()+" which was already rejected")
	}
	encoded := wire.NewWriter(32)
	encoded.Uint64(existing.Height)
	encoded.Byte(flagFinalized)
	encoded.Uint64(sequence)
	encoded.Uint64(uint64(nowUnix))

	batch := s.db.NewBatch()
	if err := batch.Put(vertexKey(nsMetadata, hash), encoded.Finish()); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put finalized metadata", err)
	}
	if err := batch.Put(finalizedKey(sequence), hash[:]); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put finalized index", err)
	}
	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: finalize batch write", err)
	}
	if sequence+1 > s.finalizedCount {
		s.finalizedCount = sequence + 1
		s.headHash = hash
	}
	return nil
}

// MarkRejected permanently marks hash as rejected with cause, recording
// the reason in its metadata. Rejecting an already-finalized vertex is an
// invariant violation: finalization and rejection are mutually exclusive
// and finalization never reverses.
func (s *Store) MarkRejected(hash ids.ID, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getMetadataLocked(hash)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: read metadata before reject", err)
	}
	if existing.Finalized {
		return errs.New(errs.InvariantViolation, "dagstore: rejecting "+hash.String()+" which was already finalized")
	}

	encoded := wire.NewWriter(32 + len(cause))
	encoded.Uint64(existing.Height)
	encoded.Byte(flagRejected)
	encoded.String(cause)

	if err := s.db.Put(vertexKey(nsMetadata, hash), encoded.Finish()); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: put rejected metadata", err)
	}
	return nil
}

// FinalizedInOrder returns up to limit finalized vertex hashes starting at
// sequence fromSeq, in sequence order.
func (s *Store) FinalizedInOrder(fromSeq uint64, limit int) ([]ids.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ID, 0, limit)
	for seq := fromSeq; len(out) < limit; seq++ {
		raw, err := s.db.Get(finalizedKey(seq))
		if err != nil {
			break // no more consecutive entries
		}
		id, err := ids.ToID(raw)
		if err != nil {
			return nil, errs.Wrap(errs.InvariantViolation, "dagstore: corrupt finalized index", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// snapshotSchemaVersion identifies the manifest layout Snapshot writes and
// Restore reads. Bump it whenever the archive framing changes.
const snapshotSchemaVersion uint32 = 1

// integritySampleSize bounds how many vertex bodies Snapshot rehashes to
// detect bit-rot between the database and the archive it writes, per §4.B.
const integritySampleSize = 32

type kv struct {
	key, value []byte
}

// Snapshot writes an atomic backup archive to path: a manifest (schema
// version, head finalized sequence, head finalized vertex hash) followed by
// all six namespaces (vertex bodies, metadata, edges, height index,
// timestamp index, finalized index). A sampling of stored vertex bodies is
// rehashed before the archive is finalized, so a corrupt read never
// produces a silently-bad backup. The archive is written to a temp file and
// renamed into place; on cancellation the temp file is removed and path is
// left untouched.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hashes := make([]ids.ID, 0, len(s.all))
	for h := range s.all {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return string(hashes[i][:]) < string(hashes[j][:])
	})

	var bodies, metas, edges []kv
	heights := make(map[uint64]struct{})
	timestamps := make(map[uint64]struct{})

	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}

		bodyRaw, err := s.db.Get(vertexKey(nsVertexBody, h))
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot read vertex body", err)
		}
		bodies = append(bodies, kv{vertexKey(nsVertexBody, h), bodyRaw})

		metaRaw, err := s.db.Get(vertexKey(nsMetadata, h))
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot read metadata", err)
		}
		metas = append(metas, kv{vertexKey(nsMetadata, h), metaRaw})

		meta, err := decodeMetadata(metaRaw)
		if err != nil {
			return errs.Wrap(errs.InvariantViolation, "dagstore: snapshot corrupt metadata for "+h.String(), err)
		}
		heights[meta.Height] = struct{}{}

		v, err := s.getVertexLocked(h)
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot read vertex", err)
		}
		timestamps[uint64(v.Timestamp)] = struct{}{}
		for _, p := range v.Parents {
			edges = append(edges, kv{edgeKey(p, h), nil})
		}
	}

	if err := verifyIntegritySample(hashes, s.getVertexLocked); err != nil {
		return err
	}

	var heightEntries []kv
	for h := range heights {
		raw, err := s.db.Get(heightKey(h))
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot read height index", err)
		}
		heightEntries = append(heightEntries, kv{heightKey(h), raw})
	}
	var tsEntries []kv
	for ts := range timestamps {
		raw, err := s.db.Get(timestampKey(ts))
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot read timestamp index", err)
		}
		tsEntries = append(tsEntries, kv{timestampKey(ts), raw})
	}
	var finalizedEntries []kv
	for seq := uint64(0); seq < s.finalizedCount; seq++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := s.db.Get(finalizedKey(seq))
		if err != nil {
			return errs.Wrap(errs.InvariantViolation, "dagstore: snapshot: finalized index has a gap before sequence recorded as head", err)
		}
		finalizedEntries = append(finalizedEntries, kv{finalizedKey(seq), raw})
	}

	w := wire.NewWriter(1 << 16)
	w.Uint32(snapshotSchemaVersion)
	w.Uint64(s.finalizedCount)
	w.Bytes(s.headHash[:])
	writeNamespace(w, bodies)
	writeNamespace(w, metas)
	writeNamespace(w, edges)
	writeNamespace(w, heightEntries)
	writeNamespace(w, tsEntries)
	writeNamespace(w, finalizedEntries)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, w.Finish(), 0o600); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot write temp file", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errs.Wrap(errs.StorageUnavailable, "dagstore: snapshot rename into place", err)
	}
	return nil
}

// verifyIntegritySample rehashes a spread of up to integritySampleSize
// vertices and confirms each recomputed hash matches the hash it is stored
// under, catching corruption between disk and the archive being built.
func verifyIntegritySample(hashes []ids.ID, get func(ids.ID) (*vertex.Vertex, error)) error {
	if len(hashes) == 0 {
		return nil
	}
	n := integritySampleSize
	if n > len(hashes) {
		n = len(hashes)
	}
	for i := 0; i < n; i++ {
		h := hashes[i*len(hashes)/n]
		v, err := get(h)
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: integrity sample read failed for "+h.String(), err)
		}
		if v.ComputeHash() != h {
			return errs.New(errs.InvariantViolation, "dagstore: integrity sample rehash mismatch for "+h.String())
		}
	}
	return nil
}

func writeNamespace(w *wire.Writer, entries []kv) {
	w.Uint64(uint64(len(entries)))
	for _, e := range entries {
		w.Bytes(e.key)
		w.Bytes(e.value)
	}
}

func readNamespace(r *wire.Reader) ([]kv, error) {
	count, err := r.Uint64()
	if err != nil {
		return nil, errs.Wrap(errs.InvariantViolation, "dagstore: restore: truncated namespace count", err)
	}
	entries := make([]kv, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := r.Bytes()
		if err != nil {
			return nil, errs.Wrap(errs.InvariantViolation, "dagstore: restore: truncated namespace key", err)
		}
		value, err := r.Bytes()
		if err != nil {
			return nil, errs.Wrap(errs.InvariantViolation, "dagstore: restore: truncated namespace value", err)
		}
		entries = append(entries, kv{key, value})
	}
	return entries, nil
}

// Restore replaces the store's contents with the archive written by
// Snapshot: every namespace entry is replayed into a single batch, then the
// in-memory tips/children/all indices are rebuilt from the restored vertex
// bodies. Restore is meant for an empty store (disaster recovery onto a
// fresh node); it does not delete keys absent from the archive.
func (s *Store) Restore(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: restore read archive", err)
	}

	r := wire.NewReader(raw)
	schemaVersion, err := r.Uint32()
	if err != nil {
		return errs.Wrap(errs.InvariantViolation, "dagstore: restore: truncated manifest", err)
	}
	if schemaVersion != snapshotSchemaVersion {
		return errs.New(errs.InvalidInput, "dagstore: restore: unsupported snapshot schema version")
	}
	headSeq, err := r.Uint64()
	if err != nil {
		return errs.Wrap(errs.InvariantViolation, "dagstore: restore: truncated manifest", err)
	}
	headHashBytes, err := r.Bytes()
	if err != nil {
		return errs.Wrap(errs.InvariantViolation, "dagstore: restore: truncated manifest", err)
	}
	headHash, err := ids.ToID(headHashBytes)
	if err != nil {
		return errs.Wrap(errs.InvariantViolation, "dagstore: restore: corrupt head hash", err)
	}

	var namespaces [6][]kv
	for i := range namespaces {
		entries, err := readNamespace(r)
		if err != nil {
			return err
		}
		namespaces[i] = entries
	}

	batch := s.db.NewBatch()
	for _, ns := range namespaces {
		for _, e := range ns {
			if err := ctx.Err(); err != nil {
				return err // batch never written: nothing committed yet
			}
			if err := batch.Put(e.key, e.value); err != nil {
				return errs.Wrap(errs.StorageUnavailable, "dagstore: restore stage entry", err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return errs.Wrap(errs.StorageUnavailable, "dagstore: restore batch write", err)
	}

	hashes := make([]ids.ID, 0, len(namespaces[0]))
	for _, e := range namespaces[0] {
		h, err := ids.ToID(e.key[1:])
		if err != nil {
			return errs.Wrap(errs.InvariantViolation, "dagstore: restore: corrupt vertex body key", err)
		}
		hashes = append(hashes, h)
	}
	if err := s.rebuildIndicesLocked(hashes); err != nil {
		return err
	}
	s.finalizedCount = headSeq
	s.headHash = headHash
	return nil
}

// rebuildIndicesLocked recomputes children, tips, and all from the vertex
// bodies now durable in s.db, the same derivation PutVertex keeps live
// incrementally.
func (s *Store) rebuildIndicesLocked(hashes []ids.ID) error {
	s.children = make(map[ids.ID][]ids.ID, len(hashes))
	s.tips = make(map[ids.ID]struct{}, len(hashes))
	s.all = make(map[ids.ID]struct{}, len(hashes))
	for _, h := range hashes {
		s.all[h] = struct{}{}
		s.tips[h] = struct{}{}
	}
	for _, h := range hashes {
		v, err := s.getVertexLocked(h)
		if err != nil {
			return errs.Wrap(errs.StorageUnavailable, "dagstore: restore rebuild indices", err)
		}
		for _, p := range v.Parents {
			s.children[p] = append(s.children[p], h)
			delete(s.tips, p)
		}
	}
	return nil
}
