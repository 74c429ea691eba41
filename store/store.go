// Package store is the on-disk persistence layer: a single goleveldb handle
// namespaced by key prefix into "column families" (blocks, the latest state
// checkpoint, known peers), the way the teacher's consensus engine keeps its
// own lru.ARCCache in front of a shared database handle rather than opening
// one database per concern.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"math/big"

	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"driftchain/block"
	"driftchain/state"
	"driftchain/xcrypto"
)

const blockCacheSize = 256

var (
	blockPrefix      = []byte("b:")
	checkpointKey    = []byte("checkpoint")
	checkpointHeight = []byte("checkpoint-height")
	peerPrefix       = []byte("p:")
)

// ErrNotFound is returned when a lookup key has no stored value.
var ErrNotFound = errors.New("store: not found")

// Store is the goleveldb-backed implementation of chain.Store and
// peerbook's persistence dependency.
type Store struct {
	db     *leveldb.DB
	blocks *lru.ARCCache
}

// Open opens (creating if absent) the database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	cache, err := lru.NewARC(blockCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, blocks: cache}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func blockKey(hash xcrypto.Hash) []byte {
	return append(append([]byte(nil), blockPrefix...), hash[:]...)
}

// PutBlock persists b, keyed by its content hash.
func (s *Store) PutBlock(b *block.Block) error {
	hash := b.Hash()
	if err := s.db.Put(blockKey(hash), b.Serialize(), nil); err != nil {
		return err
	}
	s.blocks.Add(hash, b)
	return nil
}

// BlockByHash retrieves a previously stored block.
func (s *Store) BlockByHash(hash xcrypto.Hash) (*block.Block, error) {
	if v, ok := s.blocks.Get(hash); ok {
		return v.(*block.Block), nil
	}
	raw, err := s.db.Get(blockKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b, err := block.Deserialize(raw)
	if err != nil {
		return nil, err
	}
	s.blocks.Add(hash, b)
	return b, nil
}

// AllBlockHashes returns every stored block's hash, in key order (callers
// that need ancestry order must derive it themselves).
func (s *Store) AllBlockHashes() ([]xcrypto.Hash, error) {
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	defer iter.Release()

	var hashes []xcrypto.Hash
	for iter.Next() {
		var h xcrypto.Hash
		copy(h[:], iter.Key()[len(blockPrefix):])
		hashes = append(hashes, h)
	}
	return hashes, iter.Error()
}

// checkpointRecord is the gob-serializable form of a state.Snapshot: this
// is a local restart artifact, not a wire format, so it is exempt from the
// bit-exact codecs the block/transaction/stake content hashes require.
type checkpointRecord struct {
	LatestBlock  []byte
	Hashes       [][xcrypto.HashSize]byte
	StakerOrder  [][xcrypto.AddressSize]byte
	BalanceAddr  [][xcrypto.AddressSize]byte
	BalanceVal   [][]byte
	StakedAddr   [][xcrypto.AddressSize]byte
	StakedVal    [][]byte
	LatestBlocks [][]byte
}

// SaveCheckpoint persists the promoted stable state at height.
func (s *Store) SaveCheckpoint(st *state.State, height uint64) error {
	snap := st.Snapshot()
	rec := checkpointRecord{}
	if snap.LatestBlock != nil {
		rec.LatestBlock = snap.LatestBlock.Serialize()
	}
	for _, h := range snap.Hashes {
		rec.Hashes = append(rec.Hashes, h)
	}
	for _, a := range snap.StakerOrder {
		rec.StakerOrder = append(rec.StakerOrder, a)
	}
	for a, v := range snap.Balance {
		rec.BalanceAddr = append(rec.BalanceAddr, a)
		rec.BalanceVal = append(rec.BalanceVal, v.Bytes())
	}
	for a, v := range snap.Staked {
		rec.StakedAddr = append(rec.StakedAddr, a)
		rec.StakedVal = append(rec.StakedVal, v.Bytes())
	}
	for i := range snap.LatestBlocks {
		rec.LatestBlocks = append(rec.LatestBlocks, snap.LatestBlocks[i].Serialize())
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(checkpointKey, buf.Bytes())
	batch.Put(checkpointHeight, encodeHeight(height))
	return s.db.Write(batch, nil)
}

// LoadCheckpoint returns the most recently saved checkpoint, if any.
func (s *Store) LoadCheckpoint() (*state.State, uint64, bool, error) {
	raw, err := s.db.Get(checkpointKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	var rec checkpointRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return nil, 0, false, err
	}

	snap := state.Snapshot{
		Balance: make(map[xcrypto.Address]*big.Int, len(rec.BalanceAddr)),
		Staked:  make(map[xcrypto.Address]*big.Int, len(rec.StakedAddr)),
	}
	if len(rec.LatestBlock) > 0 {
		b, err := block.Deserialize(rec.LatestBlock)
		if err != nil {
			return nil, 0, false, err
		}
		snap.LatestBlock = b
	}
	for _, h := range rec.Hashes {
		snap.Hashes = append(snap.Hashes, xcrypto.Hash(h))
	}
	for _, a := range rec.StakerOrder {
		snap.StakerOrder = append(snap.StakerOrder, xcrypto.Address(a))
	}
	for i, a := range rec.BalanceAddr {
		snap.Balance[xcrypto.Address(a)] = new(big.Int).SetBytes(rec.BalanceVal[i])
	}
	for i, a := range rec.StakedAddr {
		snap.Staked[xcrypto.Address(a)] = new(big.Int).SetBytes(rec.StakedVal[i])
	}
	for _, raw := range rec.LatestBlocks {
		b, err := block.Deserialize(raw)
		if err != nil {
			return nil, 0, false, err
		}
		snap.LatestBlocks = append(snap.LatestBlocks, *b)
	}

	heightRaw, err := s.db.Get(checkpointHeight, nil)
	if err != nil {
		return nil, 0, false, err
	}
	return state.FromSnapshot(snap), decodeHeight(heightRaw), true, nil
}

func encodeHeight(h uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(h >> (8 * uint(i)))
	}
	return b
}

func decodeHeight(b []byte) uint64 {
	var h uint64
	for i := 0; i < 8 && i < len(b); i++ {
		h |= uint64(b[i]) << (8 * uint(i))
	}
	return h
}

func peerKey(ip string) []byte {
	return append(append([]byte(nil), peerPrefix...), []byte(ip)...)
}

// PutPeer records ip as known-good.
func (s *Store) PutPeer(ip string) error {
	return s.db.Put(peerKey(ip), []byte{1}, nil)
}

// DeletePeer forgets ip.
func (s *Store) DeletePeer(ip string) error {
	return s.db.Delete(peerKey(ip), nil)
}

// AllPeers returns every known peer IP.
func (s *Store) AllPeers() ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix(peerPrefix), nil)
	defer iter.Release()

	var peers []string
	for iter.Next() {
		peers = append(peers, string(iter.Key()[len(peerPrefix):]))
	}
	return peers, iter.Error()
}
