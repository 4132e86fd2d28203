// Package txstore persists the pre-signed transaction chain of each deposit
// under watch. Transactions are stored as PSBTs and re-validated on load, so
// a corrupted database entry can never yield an unchecked transaction.
package txstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.etcd.io/bbolt"

	"github.com/bitvaultorg/libvaulttx-go/vaulttx"
)

var (
	bucketChains       = []byte("chains")
	bucketUnvaultTxids = []byte("unvault_txids")
)

// PresignedChain is the set of transactions pre-signed for one deposit.
type PresignedChain struct {
	Unvault          *vaulttx.UnvaultTransaction
	Cancel           *vaulttx.CancelTransaction
	Emergency        *vaulttx.EmergencyTransaction
	UnvaultEmergency *vaulttx.UnvaultEmergencyTransaction
}

// storedChain is the gob-encoded database representation, each transaction as
// its binary PSBT.
type storedChain struct {
	Unvault          []byte
	Cancel           []byte
	Emergency        []byte
	UnvaultEmergency []byte
}

// Store wraps a bbolt database holding one pre-signed chain per deposit
// outpoint.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("txstore: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("txstore: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChains, bucketUnvaultTxids} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("boltstore: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("txstore: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// outPointKey encodes a deposit outpoint as txid plus 4-byte big-endian index.
func outPointKey(op wire.OutPoint) []byte {
	k := make([]byte, chainhash.HashSize+4)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[chainhash.HashSize:], op.Index)
	return k
}

func encodeChain(chain *PresignedChain) ([]byte, error) {
	var stored storedChain
	var err error
	if stored.Unvault, err = chain.Unvault.PSBTBytes(); err != nil {
		return nil, fmt.Errorf("encode unvault: %w", err)
	}
	if stored.Cancel, err = chain.Cancel.PSBTBytes(); err != nil {
		return nil, fmt.Errorf("encode cancel: %w", err)
	}
	if stored.Emergency, err = chain.Emergency.PSBTBytes(); err != nil {
		return nil, fmt.Errorf("encode emergency: %w", err)
	}
	if stored.UnvaultEmergency, err = chain.UnvaultEmergency.PSBTBytes(); err != nil {
		return nil, fmt.Errorf("encode unvault emergency: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&stored); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeChain re-validates every transaction through its parser, the same
// path a PSBT received from the network takes.
func decodeChain(data []byte) (*PresignedChain, error) {
	var stored storedChain
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&stored); err != nil {
		return nil, err
	}

	var chain PresignedChain
	var err error
	if chain.Unvault, err = vaulttx.UnvaultTransactionFromBytes(stored.Unvault); err != nil {
		return nil, fmt.Errorf("decode unvault: %w", err)
	}
	if chain.Cancel, err = vaulttx.CancelTransactionFromBytes(stored.Cancel); err != nil {
		return nil, fmt.Errorf("decode cancel: %w", err)
	}
	if chain.Emergency, err = vaulttx.EmergencyTransactionFromBytes(stored.Emergency); err != nil {
		return nil, fmt.Errorf("decode emergency: %w", err)
	}
	if chain.UnvaultEmergency, err = vaulttx.UnvaultEmergencyTransactionFromBytes(stored.UnvaultEmergency); err != nil {
		return nil, fmt.Errorf("decode unvault emergency: %w", err)
	}
	return &chain, nil
}

func (chain *PresignedChain) complete() bool {
	return chain != nil && chain.Unvault != nil && chain.Cancel != nil &&
		chain.Emergency != nil && chain.UnvaultEmergency != nil
}

// PutChain stores the pre-signed chain of the deposit at depositOutPoint.
// Returns ErrDuplicateChain if one is already stored.
func (s *Store) PutChain(depositOutPoint wire.OutPoint, chain *PresignedChain) error {
	if !chain.complete() {
		return fmt.Errorf("%w: chain", ErrNilParam)
	}

	data, err := encodeChain(chain)
	if err != nil {
		return fmt.Errorf("txstore: encode chain: %w", err)
	}
	key := outPointKey(depositOutPoint)
	unvaultTxid := chain.Unvault.TxID()

	return s.db.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(bucketChains)
		if b.Get(key) != nil {
			return ErrDuplicateChain
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("boltstore: put chain: %w", err)
		}
		if err := btx.Bucket(bucketUnvaultTxids).Put(unvaultTxid[:], key); err != nil {
			return fmt.Errorf("boltstore: put unvault txid index: %w", err)
		}
		return nil
	})
}

// UpdateChain overwrites the stored chain of the deposit at depositOutPoint,
// for backfilling signatures as they are collected.
func (s *Store) UpdateChain(depositOutPoint wire.OutPoint, chain *PresignedChain) error {
	if !chain.complete() {
		return fmt.Errorf("%w: chain", ErrNilParam)
	}

	data, err := encodeChain(chain)
	if err != nil {
		return fmt.Errorf("txstore: encode chain: %w", err)
	}
	key := outPointKey(depositOutPoint)

	return s.db.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(bucketChains)
		if b.Get(key) == nil {
			return ErrChainNotFound
		}
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("boltstore: update chain: %w", err)
		}
		return nil
	})
}

// GetChain retrieves the pre-signed chain of the deposit at depositOutPoint.
func (s *Store) GetChain(depositOutPoint wire.OutPoint) (*PresignedChain, error) {
	var chain *PresignedChain
	err := s.db.View(func(btx *bbolt.Tx) error {
		data := btx.Bucket(bucketChains).Get(outPointKey(depositOutPoint))
		if data == nil {
			return ErrChainNotFound
		}
		var err error
		if chain, err = decodeChain(data); err != nil {
			return fmt.Errorf("boltstore: decode chain: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// GetChainByUnvaultTxid retrieves the chain whose unvault transaction has the
// given txid, to react to an unvault broadcast seen on the network.
func (s *Store) GetChainByUnvaultTxid(txid chainhash.Hash) (*PresignedChain, error) {
	var chain *PresignedChain
	err := s.db.View(func(btx *bbolt.Tx) error {
		key := btx.Bucket(bucketUnvaultTxids).Get(txid[:])
		if key == nil {
			return ErrChainNotFound
		}
		data := btx.Bucket(bucketChains).Get(key)
		if data == nil {
			return ErrChainNotFound
		}
		var err error
		if chain, err = decodeChain(data); err != nil {
			return fmt.Errorf("boltstore: decode chain by unvault txid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// DeleteChain removes the stored chain of the deposit at depositOutPoint and
// its unvault txid index entry.
func (s *Store) DeleteChain(depositOutPoint wire.OutPoint) error {
	key := outPointKey(depositOutPoint)

	return s.db.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(bucketChains)
		data := b.Get(key)
		if data == nil {
			return ErrChainNotFound
		}
		chain, err := decodeChain(data)
		if err != nil {
			return fmt.Errorf("boltstore: decode chain: %w", err)
		}
		if err := b.Delete(key); err != nil {
			return fmt.Errorf("boltstore: delete chain: %w", err)
		}
		unvaultTxid := chain.Unvault.TxID()
		if err := btx.Bucket(bucketUnvaultTxids).Delete(unvaultTxid[:]); err != nil {
			return fmt.Errorf("boltstore: delete unvault txid index entry: %w", err)
		}
		return nil
	})
}

// ListChains returns the stored chain of every deposit, keyed by outpoint.
func (s *Store) ListChains() (map[wire.OutPoint]*PresignedChain, error) {
	chains := make(map[wire.OutPoint]*PresignedChain)
	err := s.db.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketChains).ForEach(func(k, v []byte) error {
			var op wire.OutPoint
			copy(op.Hash[:], k[:chainhash.HashSize])
			op.Index = binary.BigEndian.Uint32(k[chainhash.HashSize:])

			chain, err := decodeChain(v)
			if err != nil {
				return fmt.Errorf("boltstore: decode chain in list: %w", err)
			}
			chains[op] = chain
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: list chains: %w", err)
	}
	return chains, nil
}
