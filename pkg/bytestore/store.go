// Package bytestore implements the durable (service, hash) -> CacheRecord
// mapping described for the aggregator's search-result cache, on top of
// BadgerDB, following the teacher's cmd/deflix-stremio/storage.go pattern
// (gob-encoded rows, a badger-to-zap logger bridge) generalized from a
// single torrent/meta cache into a general-purpose store.
package bytestore

import (
	"time"

	"github.com/dgraph-io/badger/v2"
	"go.uber.org/zap"

	"github.com/deflix-tv/streamlink-aggregator/pkg/types"
)

// Options configures a Store. Zero values fall back to the defaults named
// in the component design.
type Options struct {
	Path string

	WriteConcurrency int           // default 5
	WriteBacklog     int           // default 200
	MaxFailures      int           // default 5
	CooldownPeriod   time.Duration // default 30s
	GCInterval       time.Duration // default 1h
	SweepInterval    time.Duration // default 5m
}

func (o Options) withDefaults() Options {
	if o.WriteConcurrency == 0 {
		o.WriteConcurrency = 5
	}
	if o.WriteBacklog == 0 {
		o.WriteBacklog = 200
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	if o.CooldownPeriod == 0 {
		o.CooldownPeriod = 30 * time.Second
	}
	if o.GCInterval == 0 {
		o.GCInterval = time.Hour
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = 5 * time.Minute
	}
	return o
}

// Store is the persistent, circuit-breaker-protected KV cache. It is safe
// for concurrent use.
type Store struct {
	db      *badger.DB
	logger  *zap.Logger
	breaker *circuitBreaker
	queue   *writeQueue

	stop chan struct{}
}

// Open opens (creating if absent) a BadgerDB-backed Store at opts.Path.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	opts = opts.withDefaults()

	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(newBadger2Zap(logger)).
		WithLoggingLevel(badger.WARNING).
		WithSyncWrites(false)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		logger:  logger,
		breaker: newCircuitBreaker(opts.MaxFailures, opts.CooldownPeriod),
		queue:   newWriteQueue(opts.WriteConcurrency, opts.WriteBacklog),
		stop:    make(chan struct{}),
	}
	go s.runValueLogGC(opts.GCInterval)
	go s.runSweeper(opts.SweepInterval)
	return s, nil
}

// Close stops background goroutines, drains the write queue, and closes
// the underlying database.
func (s *Store) Close() error {
	close(s.stop)
	s.queue.close()
	return s.db.Close()
}

func (s *Store) runValueLogGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (s *Store) runSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.PurgeExpired()
		}
	}
}

// Upsert enqueues a write-behind of record, expiring at ttl from now (if
// ttl <= 0, record.ExpiresAt is kept as given; a zero ExpiresAt never
// expires). The call returns immediately; infrastructural
// failures are logged, never surfaced, per the cache-is-an-accelerant
// contract.
func (s *Store) Upsert(record types.CacheRecord, ttl time.Duration) {
	now := time.Now()
	record.UpdatedAt = now
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl)
	}

	if !s.breaker.allow() {
		s.logger.Warn("bytestore circuit open, dropping write", zap.String("key", record.Key()))
		return
	}

	s.queue.enqueue(func() {
		if err := s.writeOne(record); err != nil {
			s.breaker.recordFailure()
			s.logger.Error("bytestore upsert failed", zap.Error(err), zap.String("key", record.Key()))
			return
		}
		s.breaker.recordSuccess()
	})
}

// UpsertBulk enqueues a single batched, deduplicated (by service+hash)
// multi-row write.
func (s *Store) UpsertBulk(records []types.CacheRecord, ttl time.Duration) {
	if len(records) == 0 {
		return
	}
	now := time.Now()
	byKey := make(map[string]types.CacheRecord, len(records))
	for _, r := range records {
		r.UpdatedAt = now
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if ttl > 0 {
			r.ExpiresAt = now.Add(ttl)
		}
		byKey[r.Key()] = r
	}
	deduped := make([]types.CacheRecord, 0, len(byKey))
	for _, r := range byKey {
		deduped = append(deduped, r)
	}

	if !s.breaker.allow() {
		s.logger.Warn("bytestore circuit open, dropping bulk write", zap.Int("count", len(deduped)))
		return
	}

	const maxBatch = 100
	for i := 0; i < len(deduped); i += maxBatch {
		end := i + maxBatch
		if end > len(deduped) {
			end = len(deduped)
		}
		batch := deduped[i:end]
		s.queue.enqueue(func() {
			if err := s.writeBatch(batch); err != nil {
				s.breaker.recordFailure()
				s.logger.Error("bytestore bulk upsert failed", zap.Error(err), zap.Int("count", len(batch)))
				return
			}
			s.breaker.recordSuccess()
		})
	}
}

func (s *Store) writeOne(record types.CacheRecord) error {
	return s.writeBatch([]types.CacheRecord{record})
}

func (s *Store) writeBatch(records []types.CacheRecord) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range records {
		b, err := encodeGob(r)
		if err != nil {
			return err
		}
		if err := wb.Set(primaryKey(r.Service, r.Hash), b); err != nil {
			return err
		}
		if err := wb.Set(indexKey(r.Service, r.ReleaseKey, r.Hash), []byte{}); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Get returns the record for (service, hash) if present and unexpired.
func (s *Store) Get(service, hash string) (types.CacheRecord, bool) {
	var record types.CacheRecord
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(primaryKey(service, hash))
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := decodeGob(val, &record); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		s.logger.Error("bytestore get failed", zap.Error(err), zap.String("service", service), zap.String("hash", hash))
		return types.CacheRecord{}, false
	}
	if !found || record.Expired(time.Now()) {
		return types.CacheRecord{}, false
	}
	return record, true
}

// GetMany returns the subset of hashes present and unexpired, keyed by
// hash.
func (s *Store) GetMany(service string, hashes []string) map[string]types.CacheRecord {
	out := make(map[string]types.CacheRecord, len(hashes))
	for _, h := range hashes {
		if r, ok := s.Get(service, h); ok {
			out[h] = r
		}
	}
	return out
}

// Delete removes the row for (service, hash), if present.
func (s *Store) Delete(service, hash string) {
	record, ok := s.Get(service, hash)
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(primaryKey(service, hash)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if ok {
			if err := txn.Delete(indexKey(service, record.ReleaseKey, hash)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("bytestore delete failed", zap.Error(err), zap.String("service", service), zap.String("hash", hash))
	}
}

// DeleteByPrefix removes every row under service whose hash starts with
// hashPrefix.
func (s *Store) DeleteByPrefix(service, hashPrefix string) {
	prefix := primaryKeyPrefix(service, hashPrefix)
	var toDelete []types.CacheRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r types.CacheRecord
			if err := it.Item().Value(func(val []byte) error {
				return decodeGob(val, &r)
			}); err != nil {
				continue
			}
			toDelete = append(toDelete, r)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("bytestore deleteByPrefix scan failed", zap.Error(err), zap.String("prefix", string(prefix)))
		return
	}
	for _, r := range toDelete {
		s.Delete(r.Service, r.Hash)
	}
}

// ReleaseCounts is the countsByRelease result shape.
type ReleaseCounts struct {
	ByCategory           map[string]int
	ByCategoryResolution map[string]int
	Total                int
}

// CountsByRelease tallies unexpired rows under (service, releaseKey),
// bucketed by category and by category+resolution. Backed by a prefix
// scan over the release secondary index; see DESIGN.md for why this
// substitutes for a real query engine.
func (s *Store) CountsByRelease(service, releaseKey string) ReleaseCounts {
	counts := ReleaseCounts{ByCategory: map[string]int{}, ByCategoryResolution: map[string]int{}}
	prefix := indexKeyPrefix(service, releaseKey)
	now := time.Now()

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			hash := hashFromIndexKey(it.Item().KeyCopy(nil))
			recItem, err := txn.Get(primaryKey(service, hash))
			if err != nil {
				continue
			}
			var r types.CacheRecord
			if err := recItem.Value(func(val []byte) error {
				return decodeGob(val, &r)
			}); err != nil || r.Expired(now) {
				continue
			}
			counts.Total++
			counts.ByCategory[r.Category]++
			counts.ByCategoryResolution[r.Category+"|"+r.Resolution]++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("bytestore countsByRelease failed", zap.Error(err), zap.String("releaseKey", releaseKey))
	}
	return counts
}

// PurgeExpired scans every row and deletes those past ExpiresAt. Run
// periodically in the background; readers already filter expired rows at
// query time, so this is a space-reclamation sweep, not a correctness
// requirement.
func (s *Store) PurgeExpired() {
	now := time.Now()
	var expired []types.CacheRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(primaryPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r types.CacheRecord
			if err := it.Item().Value(func(val []byte) error {
				return decodeGob(val, &r)
			}); err != nil {
				continue
			}
			if r.Expired(now) {
				expired = append(expired, r)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("bytestore purge scan failed", zap.Error(err))
		return
	}
	for _, r := range expired {
		s.Delete(r.Service, r.Hash)
	}
	if len(expired) > 0 {
		s.logger.Info("purged expired cache rows", zap.Int("count", len(expired)))
	}
}

// DroppedWrites reports how many enqueued writes were discarded due to
// backlog overflow, for diagnostics.
func (s *Store) DroppedWrites() uint64 {
	return s.queue.droppedCount()
}
