// Package mirror keeps the search index in step with the document store.
// Store writes are turned into sync tasks, queued, and applied by a worker
// pool. Tasks for the same document always land on the same worker, so the
// index observes that document's changes in order, and workers reload the
// document from the store before indexing so a stale payload is never
// written over a newer one.
package mirror

import (
	"github.com/google/uuid"
)

// Op is the kind of work a sync task carries.
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// Task is one unit of index synchronization. The payload is deliberately
// not carried: workers reload the document at apply time.
type Task struct {
	ID      uuid.UUID `json:"id"`
	Op      Op        `json:"op"`
	Type    string    `json:"type"`
	PK      string    `json:"pk"`
	Attempt int       `json:"attempt"`
}

func newTask(op Op, docType, pk string) Task {
	return Task{ID: uuid.New(), Op: op, Type: docType, PK: pk}
}
