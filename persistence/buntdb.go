package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
)

const docPrefix = "doc:"

// BuntStore keeps the documents in a buntdb database, one key per document. A file backed database is
// guarded by an exclusive file lock, only one process may own it.
type BuntStore struct {
	db   *buntdb.DB
	lock *flock.Flock
}

// NewBuntStore opens the database at fileName (":memory:" for a database without a file). lockPath defaults to
// fileName + ".lock".
func NewBuntStore(fileName, lockPath string) (*BuntStore, error) {
	if fileName == "" {
		fileName = ":memory:"
	}
	var lock *flock.Flock
	if fileName != ":memory:" {
		if lockPath == "" {
			lockPath = fileName + ".lock"
		}
		lock = flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("could not lock %s: %w", lockPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("%s is locked by another process", fileName)
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	return &BuntStore{db: db, lock: lock}, nil
}

func getDoc(tx *buntdb.Tx, path string) (Doc, error) {
	val, err := tx.Get(docPrefix + path)
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	doc := Doc{}
	if err := json.Unmarshal([]byte(val), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func setDoc(tx *buntdb.Tx, path string, doc Doc) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(docPrefix+path, string(val), nil)
	return err
}

func (s *BuntStore) Get(ctx context.Context, path string) (Doc, error) {
	if _, err := checkDocPath(path); err != nil {
		return nil, err
	}
	var doc Doc
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		doc, err = getDoc(tx, path)
		return err
	})
	return doc, err
}

func (s *BuntStore) Set(ctx context.Context, path string, data Doc, merge bool) error {
	if _, err := checkDocPath(path); err != nil {
		return err
	}
	data, err := normalizeDoc(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if merge {
			existing, err := getDoc(tx, path)
			if err == nil {
				mergeDocs(existing, data)
				data = existing
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return setDoc(tx, path, data)
	})
}

func (s *BuntStore) Update(ctx context.Context, path string, updates []Update) error {
	if _, err := checkDocPath(path); err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		doc, err := getDoc(tx, path)
		if err != nil {
			return err
		}
		if err := applyUpdates(doc, updates); err != nil {
			return err
		}
		return setDoc(tx, path, doc)
	})
}

func (s *BuntStore) Add(ctx context.Context, collection string, data Doc) (string, error) {
	parent, err := checkCollectionPath(collection)
	if err != nil {
		return "", err
	}
	data, err = normalizeDoc(data)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	err = s.db.Update(func(tx *buntdb.Tx) error {
		if parent != "" {
			if _, err := getDoc(tx, parent); err != nil {
				return err
			}
		}
		return setDoc(tx, collection+"/"+id, data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *BuntStore) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if _, err := checkCollectionPath(collection); err != nil {
		return nil, err
	}
	prefix := docPrefix + collection + "/"
	snaps := make([]Snapshot, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(key, val string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			id := strings.TrimPrefix(key, prefix)
			if strings.Contains(id, "/") {
				return true // document of a sub collection
			}
			doc := Doc{}
			if err := json.Unmarshal([]byte(val), &doc); err == nil {
				snaps = append(snaps, Snapshot{ID: id, Data: doc})
			}
			return true
		})
	})
	return snaps, err
}

func (s *BuntStore) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if lerr := s.lock.Unlock(); err == nil {
			err = lerr
		}
	}
	return err
}
