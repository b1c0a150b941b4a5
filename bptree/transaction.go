package bptree

import (
	"github.com/google/uuid"

	"github.com/nanobuf/nanobuf/buffer"
	"github.com/nanobuf/nanobuf/disk"
)

// Transaction accumulates the latched, pinned pages touched by one
// traversal (and, for deletes, the pages that should be freed once the
// traversal's latches are released). It exists so every FetchPage has a
// matching UnpinPage even across the multi-page descent of latch
// coupling — see Tree.releaseTransaction.
//
// ID is a trace identifier, useful for correlating log lines across a
// concurrent run; it plays no role in correctness.
type Transaction struct {
	ID uuid.UUID

	pageSet        []*buffer.Page
	deletedPageSet []disk.PageID
	rootLocked     bool
}

// NewTransaction starts an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{ID: uuid.New()}
}

func (t *Transaction) addPage(p *buffer.Page) {
	t.pageSet = append(t.pageSet, p)
}

func (t *Transaction) addDeletedPage(id disk.PageID) {
	t.deletedPageSet = append(t.deletedPageSet, id)
}

// find returns the already-pinned-and-latched page for id, if this
// transaction is holding it — used by insertIntoParent/coalesceOrRedistribute
// to reach an ancestor without a second FetchPage (which would self-deadlock
// on that page's own latch).
func (t *Transaction) find(id disk.PageID) *buffer.Page {
	for _, p := range t.pageSet {
		if p.ID() == id {
			return p
		}
	}
	return nil
}
