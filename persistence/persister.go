package persistence

import (
	"context"
	"fmt"

	"github.com/tcriess/lightspeed-contest/config"
)

// NewDocumentStore creates the DocumentStore selected by the configuration. Without a configured type an
// in-memory buntdb is used, nothing survives a restart then.
func NewDocumentStore(ctx context.Context, cfg config.PersistenceConfig) (DocumentStore, error) {
	switch cfg.Type {
	case "", "memory":
		s, err := NewBuntStore(":memory:", "")
		if err != nil {
			return nil, err
		}
		return s, nil
	case "buntdb":
		s, err := NewBuntStore(cfg.DSN, cfg.LockPath)
		if err != nil {
			return nil, fmt.Errorf("could not open buntdb store: %w", err)
		}
		return s, nil
	case "sqlite", "postgres":
		s, err := NewGormStore(cfg.Type, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("could not open %s store: %w", cfg.Type, err)
		}
		return s, nil
	case "firestore":
		s, err := NewFirestoreStore(ctx, cfg.ProjectId)
		if err != nil {
			return nil, fmt.Errorf("could not open firestore store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}
