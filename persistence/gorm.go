package persistence

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ driver.Valuer = &datatypes.JSON{}

// document is the single table used by the gorm backend, the content is stored as a JSON column.
type document struct {
	Path       string `gorm:"primaryKey"`
	Collection string `gorm:"index"`
	Data       datatypes.JSON
	UpdatedAt  time.Time
}

// GormStore keeps the documents in a SQL database (sqlite or postgres).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dbType, dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("no dsn configured for %s", dbType)
	}
	var dial gorm.Dialector
	switch dbType {
	case "postgres":
		dial = postgres.Open(dsn)

	case "sqlite":
		dial = sqlite.Open(dsn)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if dbType == "sqlite" {
		// sqlite allows a single writer, serialize everything through one connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.Migrator().AutoMigrate(&document{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func mapGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func firstDoc(tx *gorm.DB, path string) (Doc, error) {
	d := document{}
	if err := tx.Where("path = ?", path).First(&d).Error; err != nil {
		return nil, mapGormError(err)
	}
	doc := Doc{}
	if err := json.Unmarshal(d.Data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func saveDoc(tx *gorm.DB, path, collection string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	d := document{Path: path, Collection: collection, Data: datatypes.JSON(raw), UpdatedAt: time.Now()}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&d).Error
}

func (p *GormStore) Get(ctx context.Context, path string) (Doc, error) {
	if _, err := checkDocPath(path); err != nil {
		return nil, err
	}
	return firstDoc(p.db.WithContext(ctx), path)
}

func (p *GormStore) Set(ctx context.Context, path string, data Doc, merge bool) error {
	collection, err := checkDocPath(path)
	if err != nil {
		return err
	}
	data, err = normalizeDoc(data)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if merge {
			existing, err := firstDoc(tx, path)
			if err == nil {
				mergeDocs(existing, data)
				data = existing
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return saveDoc(tx, path, collection, data)
	})
}

func (p *GormStore) Update(ctx context.Context, path string, updates []Update) error {
	collection, err := checkDocPath(path)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := firstDoc(tx, path)
		if err != nil {
			return err
		}
		if err := applyUpdates(doc, updates); err != nil {
			return err
		}
		return saveDoc(tx, path, collection, doc)
	})
}

func (p *GormStore) Add(ctx context.Context, collection string, data Doc) (string, error) {
	parent, err := checkCollectionPath(collection)
	if err != nil {
		return "", err
	}
	data, err = normalizeDoc(data)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parent != "" {
			if _, err := firstDoc(tx, parent); err != nil {
				return err
			}
		}
		return saveDoc(tx, collection+"/"+id, collection, data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *GormStore) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if _, err := checkCollectionPath(collection); err != nil {
		return nil, err
	}
	docs := make([]document, 0)
	err := p.db.WithContext(ctx).Where("collection = ?", collection).Order("path").Find(&docs).Error
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(docs))
	for _, d := range docs {
		doc := Doc{}
		if err := json.Unmarshal(d.Data, &doc); err != nil {
			return nil, err
		}
		snaps = append(snaps, Snapshot{ID: d.Path[len(collection)+1:], Data: doc})
	}
	return snaps, nil
}

func (p *GormStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
