package registry

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerOptions configures an embedded Badger registry store.
type BadgerOptions struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir string
	// Key namespaces the entries; each entry is stored at Key + ":" + name.
	Key string
	// InMemory skips disk persistence.
	InMemory bool
	// Logger receives badger's warnings and errors. Nil silences them.
	Logger *zap.Logger
}

// BadgerStore keeps the registry in an embedded Badger database. It owns the
// database and closes it on Close.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerStore opens a Badger database for the registry.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger dir is required for on-disk mode")
	}
	if opts.Key == "" {
		return nil, errors.New("collection key is required")
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, prefix: []byte(opts.Key + ":")}, nil
}

func (s *BadgerStore) key(name string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(name))
	k = append(k, s.prefix...)
	return append(k, name...)
}

func (s *BadgerStore) Set(_ context.Context, displayName, externalID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(displayName), []byte(externalID))
	})
}

func (s *BadgerStore) Delete(_ context.Context, displayNames ...string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, name := range displayNames {
			if err := txn.Delete(s.key(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *BadgerStore) All(_ context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = s.prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			name := string(item.Key()[len(s.prefix):])
			out[name] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clear deletes every entry under the prefix in one transaction, so readers
// see either the full registry or none of it.
func (s *BadgerStore) Clear(_ context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = s.prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)

		var keys [][]byte
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger forwards badger warnings and errors to zap and drops the rest.
type badgerLogger struct {
	l *zap.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{}) {
	if b.l != nil {
		b.l.Sugar().Errorf("badger: "+f, v...)
	}
}

func (b badgerLogger) Warningf(f string, v ...interface{}) {
	if b.l != nil {
		b.l.Sugar().Warnf("badger: "+f, v...)
	}
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
