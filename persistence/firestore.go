package persistence

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore uses Google Cloud Firestore. Firestore is the eventually consistent store the retry logic
// of the coordinator was written for.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &FirestoreStore{client: client}, nil
}

func mapFirestoreError(err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (Doc, error) {
	if _, err := checkDocPath(path); err != nil {
		return nil, err
	}
	snap, err := s.client.Doc(path).Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	return snap.Data(), nil
}

func (s *FirestoreStore) Set(ctx context.Context, path string, data Doc, merge bool) error {
	if _, err := checkDocPath(path); err != nil {
		return err
	}
	var err error
	if merge {
		_, err = s.client.Doc(path).Set(ctx, map[string]interface{}(data), firestore.MergeAll)
	} else {
		_, err = s.client.Doc(path).Set(ctx, map[string]interface{}(data))
	}
	return mapFirestoreError(err)
}

func (s *FirestoreStore) Update(ctx context.Context, path string, updates []Update) error {
	if _, err := checkDocPath(path); err != nil {
		return err
	}
	fsUpdates := make([]firestore.Update, 0, len(updates))
	for _, u := range updates {
		value := u.Value
		if op, ok := value.(arrayOp); ok {
			if op.remove {
				value = firestore.ArrayRemove(op.elems...)
			} else {
				value = firestore.ArrayUnion(op.elems...)
			}
		}
		fsUpdates = append(fsUpdates, firestore.Update{Path: u.Path, Value: value})
	}
	_, err := s.client.Doc(path).Update(ctx, fsUpdates)
	return mapFirestoreError(err)
}

func (s *FirestoreStore) Add(ctx context.Context, collection string, data Doc) (string, error) {
	if _, err := checkCollectionPath(collection); err != nil {
		return "", err
	}
	ref, _, err := s.client.Collection(collection).Add(ctx, map[string]interface{}(data))
	if err != nil {
		return "", mapFirestoreError(err)
	}
	return ref.ID, nil
}

func (s *FirestoreStore) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if _, err := checkCollectionPath(collection); err != nil {
		return nil, err
	}
	iter := s.client.Collection(collection).Documents(ctx)
	defer iter.Stop()
	snaps := make([]Snapshot, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapFirestoreError(err)
		}
		snaps = append(snaps, Snapshot{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return snaps, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
