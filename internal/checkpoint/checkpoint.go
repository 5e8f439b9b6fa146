// Package checkpoint persists finished Monte Carlo rounds so an interrupted
// run can resume.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"aqpeval/internal/result"
	"aqpeval/internal/util"

	"github.com/dgraph-io/badger/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// ErrFingerprint reports a stored run that belongs to a different query.
var ErrFingerprint = errors.New("checkpoint fingerprint mismatch")

// Store keeps zstd-compressed JSON snapshots of round results under
// "run/<key>/round/<n>". It is safe for concurrent use.
type Store struct {
	db  *badger.DB
	key string
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens (or creates) the badger database in dir.
func Open(dir, key string, log *util.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir), key, log)
}

// OpenInMemory returns a store that lives for the process only.
func OpenInMemory(key string, log *util.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), key, log)
}

func open(opts badger.Options, key string, log *util.Logger) (*Store, error) {
	if key == "" {
		return nil, errors.New("checkpoint: empty run key")
	}
	db, err := badger.Open(opts.WithLogger(badgerLogger{log}))
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint store")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		_ = db.Close()
		return nil, errors.Wrap(err, "zstd decoder")
	}
	return &Store{db: db, key: key, enc: enc, dec: dec}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.dec.Close()
	if err := s.enc.Close(); err != nil {
		_ = s.db.Close()
		return err
	}
	return s.db.Close()
}

func (s *Store) prefix() []byte {
	return []byte("run/" + s.key + "/round/")
}

func (s *Store) roundKey(round int) []byte {
	return []byte(fmt.Sprintf("run/%s/round/%06d", s.key, round))
}

func (s *Store) metaKey() []byte {
	return []byte("run/" + s.key + "/fingerprint")
}

func (s *Store) txnGet(key []byte) ([]byte, error) {
	var buf []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		buf, err = item.ValueCopy(nil)
		return err
	})
	return buf, err
}

func (s *Store) txnPut(key, buf []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// Bind ties the run key to a query fingerprint. A key written with another
// fingerprint fails with ErrFingerprint unless reset is set, in which case
// every stored round is discarded.
func (s *Store) Bind(fingerprint string, reset bool) error {
	stored, err := s.txnGet(s.metaKey())
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return errors.Wrap(err, "read checkpoint fingerprint")
	case string(stored) != fingerprint && !reset:
		return errors.Wrapf(ErrFingerprint, "run %s", s.key)
	}
	if reset {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	return errors.Wrap(s.txnPut(s.metaKey(), []byte(fingerprint)), "write checkpoint fingerprint")
}

// Put stores one round's result.
func (s *Store) Put(round int, res *result.Result) error {
	raw, err := json.Marshal(res.Snapshot())
	if err != nil {
		return errors.Wrapf(err, "encode round %d", round)
	}
	if err := s.txnPut(s.roundKey(round), s.enc.EncodeAll(raw, nil)); err != nil {
		return errors.Wrapf(err, "store round %d", round)
	}
	return nil
}

// Get loads one round. ok is false when the round was never stored.
func (s *Store) Get(round int) (res *result.Result, ok bool, err error) {
	buf, err := s.txnGet(s.roundKey(round))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "load round %d", round)
	}
	raw, err := s.dec.DecodeAll(buf, nil)
	if err != nil {
		return nil, false, errors.Wrapf(err, "decompress round %d", round)
	}
	var snap result.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, errors.Wrapf(err, "decode round %d", round)
	}
	res, err = result.FromSnapshot(snap)
	if err != nil {
		return nil, false, errors.Wrapf(err, "round %d", round)
	}
	return res, true, nil
}

// Rounds lists the stored round numbers in ascending order.
func (s *Store) Rounds() ([]int, error) {
	prefix := s.prefix()
	var rounds []int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			suffix := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			n, err := strconv.Atoi(suffix)
			if err != nil {
				return errors.Wrapf(err, "malformed checkpoint key %q", it.Item().Key())
			}
			rounds = append(rounds, n)
		}
		return nil
	})
	sort.Ints(rounds)
	return rounds, err
}

// Reset deletes every stored round of the run.
func (s *Store) Reset() error {
	rounds, err := s.Rounds()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range rounds {
			if err := txn.Delete(s.roundKey(r)); err != nil {
				return err
			}
		}
		return nil
	})
}

// badgerLogger routes badger's own logging through the run logger. Info
// lines are demoted to debug.
type badgerLogger struct {
	log *util.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf("badger: "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warnf("badger: "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debugf("badger: "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debugf("badger: "+strings.TrimSpace(format), args...)
}
