package state

import (
	"fmt"
	"sync"
)

// LazyStore opens its SQLite database on first use and retries the open on
// every later call until it succeeds. Until then every operation fails with
// ErrStoreUnavailable, which callers treat as "not ready yet".
type LazyStore struct {
	opts Options
	open func(Options) (*SQLiteStore, error)

	mu    sync.Mutex
	store *SQLiteStore
}

// NewLazyStore creates a store that defers opening opts.Path.
func NewLazyStore(opts Options) *LazyStore {
	return &LazyStore{opts: opts, open: NewSQLiteStore}
}

func (l *LazyStore) get() (*SQLiteStore, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		return l.store, nil
	}
	s, err := l.open(l.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	l.store = s
	return s, nil
}

func unavailable(err error) error {
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// CreateBucket creates a bucket once the store is reachable.
func (l *LazyStore) CreateBucket(name string) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return unavailable(s.CreateBucket(name))
}

// Get retrieves a value.
func (l *LazyStore) Get(bucket, key string) ([]byte, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	v, err := s.Get(bucket, key)
	return v, unavailable(err)
}

// Set stores a value.
func (l *LazyStore) Set(bucket, key string, value []byte) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return unavailable(s.Set(bucket, key, value))
}

// Delete removes a key.
func (l *LazyStore) Delete(bucket, key string) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return unavailable(s.Delete(bucket, key))
}

// List returns all pairs in a bucket.
func (l *LazyStore) List(bucket string) (map[string][]byte, error) {
	s, err := l.get()
	if err != nil {
		return nil, err
	}
	m, err := s.List(bucket)
	return m, unavailable(err)
}

// GetJSON retrieves and unmarshals a JSON value.
func (l *LazyStore) GetJSON(bucket, key string, v interface{}) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return unavailable(s.GetJSON(bucket, key, v))
}

// SetJSON marshals and stores a JSON value.
func (l *LazyStore) SetJSON(bucket, key string, v interface{}) error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return unavailable(s.SetJSON(bucket, key, v))
}

// Ping opens the store if needed and checks it.
func (l *LazyStore) Ping() error {
	s, err := l.get()
	if err != nil {
		return err
	}
	return unavailable(s.Ping())
}

// Close closes the underlying store if it was ever opened.
func (l *LazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
