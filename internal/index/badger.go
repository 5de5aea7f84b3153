package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/dshills/docingest-mcp/pkg/types"
)

const passagePrefix = "passage/"

// documentPrefix scopes all passage keys of one document
func documentPrefix(documentID string) []byte {
	return []byte(passagePrefix + documentID + "/")
}

// passageKey orders keys by passage index within a document
func passageKey(documentID string, passageIndex int) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", passagePrefix, documentID, passageIndex))
}

// passageRecord is the stored value; the vector is kept in its binary form
type passageRecord struct {
	Passage types.Passage `json:"passage"`
	Vector  []byte        `json:"vector"`
}

func encodeRecord(p types.Passage) ([]byte, error) {
	return json.Marshal(passageRecord{Passage: p, Vector: serializeVector(p.Vector)})
}

func decodeRecord(val []byte) (types.Passage, error) {
	var rec passageRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return types.Passage{}, err
	}
	rec.Passage.Vector = deserializeVector(rec.Vector)
	return rec.Passage, nil
}

// badgerLoggerAdapter adapts slog.Logger to the badger.Logger interface
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// BadgerIndex keeps passages in an embedded key-value store. Search scans
// passages, applies the filter while iterating and ranks the survivors.
type BadgerIndex struct {
	db        *badger.DB
	dimension int
	logger    *slog.Logger
}

// NewBadgerIndex opens a badger database in cfg.Path, creating the directory if needed
func NewBadgerIndex(cfg Config) (*BadgerIndex, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "index", "backend", BackendBadger)

	var opts badger.Options
	if inMemory(cfg.Path) {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(cfg.Path)
		if os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.Path, 0755); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger index: %w", err)
	}

	return &BadgerIndex{db: db, dimension: cfg.Dimension, logger: logger}, nil
}

func (b *BadgerIndex) Backend() string { return BackendBadger }

func (b *BadgerIndex) Close() error { return b.db.Close() }

// documentKeys collects the keys of a document's passages inside txn
func documentKeys(txn *badger.Txn, documentID string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = documentPrefix(documentID)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// Upsert deletes and rewrites the document's passages in one transaction
func (b *BadgerIndex) Upsert(ctx context.Context, documentID string, passages []types.Passage, meta types.Metadata) error {
	if err := validateVectors(passages, b.dimension); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range documentKeys(txn, documentID) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, p := range passages {
			if err := ctx.Err(); err != nil {
				return err
			}
			p = stamp(documentID, p, meta)
			val, err := encodeRecord(p)
			if err != nil {
				return err
			}
			if err := txn.Set(passageKey(documentID, p.PassageIndex), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert passages: %w", err)
	}

	b.logger.Debug("passages upserted", "document_id", documentID, "count", len(passages))
	return nil
}

func (b *BadgerIndex) Delete(ctx context.Context, documentID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, key := range documentKeys(txn, documentID) {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete passages: %w", err)
	}
	return nil
}

// UpdateMetadata rewrites every passage value of the document in one transaction
func (b *BadgerIndex) UpdateMetadata(ctx context.Context, documentID string, meta types.Metadata) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		updated := make(map[string][]byte)

		opts := badger.DefaultIteratorOptions
		opts.Prefix = documentPrefix(documentID)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			p, err := decodeRecord(val)
			if err != nil {
				it.Close()
				return err
			}
			p.Metadata = meta.Clone()
			enc, err := encodeRecord(p)
			if err != nil {
				it.Close()
				return err
			}
			updated[string(item.KeyCopy(nil))] = enc
		}
		it.Close()

		for key, val := range updated {
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update passage metadata: %w", err)
	}
	return nil
}

func (b *BadgerIndex) Search(ctx context.Context, vector []float32, filter types.Filter, limit, offset int) ([]types.SearchHit, error) {
	if err := checkWindow(limit, offset); err != nil {
		return nil, err
	}

	var hits []types.SearchHit
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(passagePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p types.Passage
			err := it.Item().Value(func(val []byte) error {
				var err error
				p, err = decodeRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if !filter.Matches(p.Metadata) || len(p.Vector) != len(vector) {
				continue
			}
			hits = append(hits, types.SearchHit{Passage: p, Score: cosineSimilarity(vector, p.Vector)})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}

	hits = rankAndWindow(hits, limit, offset)
	for i := range hits {
		hits[i].Passage.Vector = nil
	}
	return hits, nil
}

func (b *BadgerIndex) Passages(ctx context.Context, documentID string) ([]types.Passage, error) {
	var out []types.Passage
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = documentPrefix(documentID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			p, err := decodeRecord(val)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}
	return out, nil
}

func (b *BadgerIndex) Count(ctx context.Context, documentID string) (int, error) {
	n := 0
	err := b.db.View(func(txn *badger.Txn) error {
		n = len(documentKeys(txn, documentID))
		return nil
	})
	return n, err
}

func (b *BadgerIndex) IsEmpty(ctx context.Context) (bool, error) {
	empty := true
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(passagePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		empty = !it.Valid()
		return nil
	})
	return empty, err
}
