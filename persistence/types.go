package persistence

import (
	"context"
	"errors"
)

// ErrNotFound is returned by every DocumentStore when a document (or the parent document of a collection)
// does not exist. The backends map their native not-found errors onto it.
var ErrNotFound = errors.New("document not found")

// Doc is the content of one document. Values are JSON compatible.
type Doc map[string]interface{}

// Update sets the field at Path (dot separated for nested fields) to Value. Value may be the result of
// ArrayUnion or ArrayRemove, which are applied atomically to the array stored at Path.
type Update struct {
	Path  string
	Value interface{}
}

// Snapshot is one document returned by List.
type Snapshot struct {
	ID   string
	Data Doc
}

// DocumentStore is the durable store. Document paths alternate collection and document ids
// ("rooms/ABC123", "rooms/ABC123/messages/<id>"), collection paths have an odd number of segments.
//
// The store may be eventually consistent: a document that was just written may not be visible yet, callers
// retry on ErrNotFound.
type DocumentStore interface {
	Get(ctx context.Context, path string) (Doc, error)
	// Set writes the document. With merge, fields of data are merged into an existing document.
	Set(ctx context.Context, path string, data Doc, merge bool) error
	// Update applies the updates to an existing document, it fails with ErrNotFound if there is none.
	Update(ctx context.Context, path string, updates []Update) error
	// Add creates a document with a generated id in the collection and returns the id.
	Add(ctx context.Context, collection string, data Doc) (string, error)
	// List returns all documents of the collection ordered by id.
	List(ctx context.Context, collection string) ([]Snapshot, error)
	Close() error
}

type arrayOp struct {
	remove bool
	elems  []interface{}
}

// ArrayUnion adds the elements that are not yet present to the array field.
func ArrayUnion(elems ...interface{}) interface{} {
	return arrayOp{elems: elems}
}

// ArrayRemove removes all occurrences of the elements from the array field.
func ArrayRemove(elems ...interface{}) interface{} {
	return arrayOp{remove: true, elems: elems}
}
