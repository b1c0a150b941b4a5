package bptree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nanobuf/nanobuf/bptpage"
	"github.com/nanobuf/nanobuf/buffer"
	"github.com/nanobuf/nanobuf/disk"
)

type opKind int

const (
	opRead opKind = iota
	opInsert
	opDelete
)

// Tree is a concurrent, disk-backed B+ tree index (§4.5): internal pages
// direct a search toward a leaf, leaves hold the (key, RID) pairs in
// order and chain together for ordered iteration. Every exported method
// is safe for concurrent use; concurrency within one tree's traversal is
// latch coupling down the page chain, and mu below serializes the rest
// of one write's structural changes (root creation, splits, merges)
// against other writers — GetValue and the iterators never take it.
type Tree struct {
	name string
	pool *buffer.Pool

	// headerPage is fetched once in Open and held pinned for the tree's
	// whole lifetime (mirroring the teacher's own permanently-pinned
	// catalog/header-page convention), so root-pointer persistence never
	// pays a pin/unpin pair on its own.
	headerPage   *buffer.Page
	headerPageID disk.PageID

	mu sync.Mutex
	// rootPageID is atomic because GetValue's read-only descent loads it
	// without ever taking mu — a plain field would race against every
	// writer's update under the Go memory model.
	rootPageID atomic.Int64
}

func (t *Tree) loadRoot() disk.PageID    { return disk.PageID(t.rootPageID.Load()) }
func (t *Tree) storeRoot(id disk.PageID) { t.rootPageID.Store(int64(id)) }

// Config configures a Tree via NewTree, mirroring disk.Config/buffer.Config.
type Config struct {
	Name         string
	Pool         *buffer.Pool
	HeaderPageID disk.PageID
}

// NewTree attaches to (or creates) the tree cfg describes. Equivalent to
// calling Open directly; provided for the NewXxx(cfg) convention the rest
// of this module's constructors follow.
func NewTree(cfg Config) (*Tree, error) {
	return Open(cfg.Name, cfg.Pool, cfg.HeaderPageID)
}

// Open attaches to (or creates, if absent) the named tree's root record on
// the given header page.
func Open(name string, pool *buffer.Pool, headerPageID disk.PageID) (*Tree, error) {
	hp, err := pool.FetchPage(headerPageID)
	if err != nil {
		return nil, fmt.Errorf("bptree: open %q: %w", name, err)
	}
	if hp == nil {
		return nil, fmt.Errorf("bptree: open %q: pool exhausted fetching header page", name)
	}
	root, ok := lookupRootRecord(hp.Data(), name)
	if !ok {
		root = disk.InvalidPageID
		insertRootRecord(hp.Data(), name, root)
		pool.MarkDirty(headerPageID)
	}
	tree := &Tree{name: name, pool: pool, headerPage: hp, headerPageID: headerPageID}
	tree.storeRoot(root)
	return tree, nil
}

// Close releases the header page this tree has held pinned since Open.
// After Close the Tree must not be used again.
func (t *Tree) Close() {
	t.pool.UnpinPage(t.headerPageID, false)
	t.headerPage = nil
}

// IsEmpty reports whether the tree currently holds no keys.
func (t *Tree) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadRoot() == disk.InvalidPageID
}

func minSize(maxSize int) int { return (maxSize + 1) / 2 }

func nodeSize(data []byte) int {
	if bptpage.IsLeaf(data) {
		return bptpage.NewLeaf(data).Size()
	}
	return bptpage.NewInternal(data).Size()
}

func nodeMaxSize(data []byte) int {
	if bptpage.IsLeaf(data) {
		return bptpage.NewLeaf(data).MaxSize()
	}
	return bptpage.NewInternal(data).MaxSize()
}

func nodeParentID(data []byte) disk.PageID {
	if bptpage.IsLeaf(data) {
		return bptpage.NewLeaf(data).ParentPageID()
	}
	return bptpage.NewInternal(data).ParentPageID()
}

// isSafeNode reports whether a node can absorb the structural effect of
// an insert or delete without propagating to its parent: an insert-safe
// node has room for one more entry; a delete-safe node would stay above
// the minimum occupancy even after losing one.
func isSafeNode(data []byte, op opKind) bool {
	size, max := nodeSize(data), nodeMaxSize(data)
	if op == opInsert {
		return size < max
	}
	return size > minSize(max)+1
}

// GetValue looks up key, latch-coupling down from the root with read
// latches only.
func (t *Tree) GetValue(key bptpage.Key) (bptpage.RID, bool, error) {
	txn := NewTransaction()
	leaf, err := t.findLeafPage(key, false, opRead, txn)
	if err != nil {
		t.releaseTransaction(txn, opRead)
		return bptpage.RID{}, false, err
	}
	if leaf == nil {
		t.releaseTransaction(txn, opRead)
		return bptpage.RID{}, false, nil
	}
	v, ok := bptpage.NewLeaf(leaf.Data()).Lookup(key)
	t.releaseTransaction(txn, opRead)
	return v, ok, nil
}

// Insert adds (key, value). Returns false without effect if key is
// already present.
func (t *Tree) Insert(key bptpage.Key, value bptpage.RID) (bool, error) {
	t.mu.Lock()
	if t.loadRoot() == disk.InvalidPageID {
		err := t.startNewTree(key, value)
		t.mu.Unlock()
		return err == nil, err
	}
	t.mu.Unlock()
	return t.insertIntoLeaf(key, value)
}

// startNewTree allocates the tree's first page, a leaf holding just
// (key, value), and records it as the root. Caller holds t.mu.
func (t *Tree) startNewTree(key bptpage.Key, value bptpage.RID) error {
	page, err := t.pool.NewPage()
	if err != nil {
		return fmt.Errorf("bptree: start new tree: %w", err)
	}
	if page == nil {
		return fmt.Errorf("bptree: start new tree: pool exhausted")
	}
	leaf := bptpage.NewLeaf(page.Data())
	leaf.Init(page.ID(), disk.InvalidPageID)
	leaf.Insert(key, value)
	bptpage.Seal(page.Data())
	t.storeRoot(page.ID())
	t.updateRootPageID()
	t.pool.UnpinPage(page.ID(), true)
	return nil
}

// updateRootPageID records t.rootPageID under t.name on the tree's
// permanently-pinned header page.
func (t *Tree) updateRootPageID() {
	root := t.loadRoot()
	if !updateRootRecord(t.headerPage.Data(), t.name, root) {
		insertRootRecord(t.headerPage.Data(), t.name, root)
	}
	t.pool.MarkDirty(t.headerPageID)
}

func (t *Tree) insertIntoLeaf(key bptpage.Key, value bptpage.RID) (bool, error) {
	txn := NewTransaction()
	leafPage, err := t.findLeafPage(key, false, opInsert, txn)
	if err != nil {
		t.releaseTransaction(txn, opInsert)
		return false, err
	}
	if leafPage == nil {
		if t.loadRoot() == disk.InvalidPageID {
			// The tree was emptied after Insert's own check; findLeafPage
			// holds t.mu, so the new tree can be started here.
			err := t.startNewTree(key, value)
			t.releaseTransaction(txn, opInsert)
			return err == nil, err
		}
		t.releaseTransaction(txn, opInsert)
		return false, fmt.Errorf("bptree: insert: pool exhausted during descent")
	}
	leaf := bptpage.NewLeaf(leafPage.Data())
	if _, ok := leaf.Lookup(key); ok {
		t.releaseTransaction(txn, opInsert)
		return false, nil
	}

	if leaf.Size() < leaf.MaxSize() {
		leaf.Insert(key, value)
		t.releaseTransaction(txn, opInsert)
		return true, nil
	}

	siblingPage, err := t.split(leafPage, txn)
	if err != nil {
		t.releaseTransaction(txn, opInsert)
		return false, err
	}
	sibling := bptpage.NewLeaf(siblingPage.Data())
	if key < sibling.KeyAt(0) {
		leaf.Insert(key, value)
	} else {
		sibling.Insert(key, value)
	}
	if err := t.insertIntoParent(leafPage, sibling.KeyAt(0), siblingPage, txn); err != nil {
		t.releaseTransaction(txn, opInsert)
		return false, err
	}
	t.releaseTransaction(txn, opInsert)
	return true, nil
}

// split allocates a fresh page and moves the upper half of old's entries
// into it, returning the new page still pinned and write-latched (and
// tracked in txn, so releaseTransaction cleans it up).
func (t *Tree) split(old *buffer.Page, txn *Transaction) (*buffer.Page, error) {
	np, err := t.pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("bptree: split: %w", err)
	}
	if np == nil {
		return nil, fmt.Errorf("bptree: split: pool exhausted")
	}
	np.WLatch()
	txn.addPage(np)

	data := old.Data()
	if bptpage.IsLeaf(data) {
		oldLeaf := bptpage.NewLeaf(data)
		newLeaf := bptpage.NewLeaf(np.Data())
		newLeaf.Init(np.ID(), oldLeaf.ParentPageID())
		oldLeaf.MoveHalfTo(newLeaf)
	} else {
		oldInternal := bptpage.NewInternal(data)
		newInternal := bptpage.NewInternal(np.Data())
		newInternal.Init(np.ID(), oldInternal.ParentPageID())
		newNodeID := np.ID()
		oldInternal.MoveHalfTo(newInternal, func(child disk.PageID) { t.mustReparent(child, newNodeID) })
	}
	return np, nil
}

// insertIntoParent inserts (sepKey, newNode) into oldNode's parent,
// splitting and recursing upward if that parent overflows. It fetches no
// page itself: the parent is found in txn via txn.find, and any new root
// or split sibling it allocates is added to txn, so every page involved is
// unlatched and unpinned by the caller's releaseTransaction.
func (t *Tree) insertIntoParent(oldNode *buffer.Page, sepKey bptpage.Key, newNode *buffer.Page, txn *Transaction) error {
	parentID := nodeParentID(oldNode.Data())

	if parentID == disk.InvalidPageID {
		rp, err := t.pool.NewPage()
		if err != nil {
			return fmt.Errorf("bptree: new root: %w", err)
		}
		if rp == nil {
			return fmt.Errorf("bptree: new root: pool exhausted")
		}
		rp.WLatch()
		txn.addPage(rp)
		root := bptpage.NewInternal(rp.Data())
		root.Init(rp.ID(), disk.InvalidPageID)
		root.PopulateNewRoot(oldNode.ID(), sepKey, newNode.ID())
		t.setParent(oldNode, rp.ID())
		t.setParent(newNode, rp.ID())
		t.storeRoot(rp.ID())
		t.updateRootPageID()
		return nil
	}

	parentPage := txn.find(parentID)
	if parentPage == nil {
		panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: ancestor page %d not held during insert propagation", parentID))
	}
	parent := bptpage.NewInternal(parentPage.Data())
	newSize := parent.InsertNodeAfter(oldNode.ID(), sepKey, newNode.ID())
	t.setParent(newNode, parentID)

	if newSize <= parent.MaxSize() {
		return nil
	}

	parent2Page, err := t.split(parentPage, txn)
	if err != nil {
		return err
	}
	parent2 := bptpage.NewInternal(parent2Page.Data())
	return t.insertIntoParent(parentPage, parent2.KeyAt(0), parent2Page, txn)
}

func (t *Tree) setParent(page *buffer.Page, parentID disk.PageID) {
	data := page.Data()
	if bptpage.IsLeaf(data) {
		bptpage.NewLeaf(data).SetParentPageID(parentID)
	} else {
		bptpage.NewInternal(data).SetParentPageID(parentID)
	}
}

// mustReparent rewrites childID's parent pointer. Used after a move that
// hands children from one page to another; a missing child page is an
// invariant violation, not a recoverable error.
func (t *Tree) mustReparent(childID, newParent disk.PageID) {
	page, err := t.pool.FetchPage(childID)
	if err != nil {
		panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: reparent fetch %d: %v", childID, err))
	}
	if page == nil {
		panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: reparent fetch %d: pool exhausted", childID))
	}
	page.WLatch()
	t.setParent(page, newParent)
	bptpage.Seal(page.Data())
	page.WUnlatch()
	t.pool.UnpinPage(childID, true)
}

// Remove deletes key if present. A no-op, not an error, if key is absent.
func (t *Tree) Remove(key bptpage.Key) error {
	txn := NewTransaction()
	leafPage, err := t.findLeafPage(key, false, opDelete, txn)
	if err != nil {
		t.releaseTransaction(txn, opDelete)
		return err
	}
	if leafPage == nil {
		t.releaseTransaction(txn, opDelete)
		return nil
	}
	leaf := bptpage.NewLeaf(leafPage.Data())
	before := leaf.Size()
	if leaf.RemoveAndDeleteRecord(key) == before {
		t.releaseTransaction(txn, opDelete)
		return nil
	}
	if t.coalesceOrRedistribute(leafPage, txn) {
		txn.addDeletedPage(leafPage.ID())
	}
	t.releaseTransaction(txn, opDelete)
	return nil
}

// coalesceOrRedistribute restores a page's minimum-occupancy invariant
// after a deletion shrank it, either by pulling an entry from a sibling
// (redistribute) or merging with one (coalesce). Returns true if the
// caller should delete page once latches are released.
func (t *Tree) coalesceOrRedistribute(page *buffer.Page, txn *Transaction) bool {
	if page.ID() == t.loadRoot() {
		return t.adjustRoot(page, txn)
	}

	data := page.Data()
	size, max := nodeSize(data), nodeMaxSize(data)
	min := minSize(max)
	if bptpage.IsLeaf(data) {
		if size >= min {
			return false
		}
	} else if size > min {
		return false
	}

	parentID := nodeParentID(data)
	parentPage := txn.find(parentID)
	if parentPage == nil {
		panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: ancestor page %d not held during delete propagation", parentID))
	}
	parent := bptpage.NewInternal(parentPage.Data())
	index := parent.ValueIndex(page.ID())

	var siblingID disk.PageID
	if index == 0 {
		siblingID = parent.ValueAt(1)
	} else {
		siblingID = parent.ValueAt(index - 1)
	}
	siblingPage, err := t.pool.FetchPage(siblingID)
	if err != nil || siblingPage == nil {
		panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: fetch sibling %d: %v", siblingID, err))
	}
	siblingPage.WLatch()
	txn.addPage(siblingPage)

	if nodeSize(siblingPage.Data())+size > max {
		t.redistribute(siblingPage, page, parent, index)
		return false
	}

	if index == 0 {
		t.mergeInto(siblingPage, page, parent, 1)
		txn.addDeletedPage(siblingPage.ID())
	} else {
		t.mergeInto(page, siblingPage, parent, index)
	}

	if parent.Size() <= minSize(parent.MaxSize()) {
		if t.coalesceOrRedistribute(parentPage, txn) {
			txn.addDeletedPage(parentPage.ID())
		}
	}
	// index == 0: sibling absorbed into page, page survives.
	// index != 0: page absorbed into sibling, caller must delete page.
	return index != 0
}

// mergeInto merges from's entries into into and removes from's separator
// slot (at fromIndexInParent) from parent. from is left empty; the
// caller is responsible for marking it deleted.
func (t *Tree) mergeInto(from, into *buffer.Page, parent bptpage.Internal, fromIndexInParent int) {
	fromData, intoData := from.Data(), into.Data()
	if bptpage.IsLeaf(fromData) {
		bptpage.NewLeaf(fromData).MoveAllTo(bptpage.NewLeaf(intoData))
	} else {
		sepKey := parent.KeyAt(fromIndexInParent)
		intoID := into.ID()
		bptpage.NewInternal(fromData).MoveAllTo(bptpage.NewInternal(intoData), sepKey,
			func(child disk.PageID) { t.mustReparent(child, intoID) })
	}
	parent.Remove(fromIndexInParent)
}

// redistribute moves exactly one entry from sibling to node to bring node
// back above the minimum occupancy, adjusting the separator key the two
// share in parent. index is node's own slot in parent: 0 means sibling is
// node's right neighbor (donates its smallest entry); otherwise sibling is
// node's left neighbor (donates its largest).
func (t *Tree) redistribute(sibling, node *buffer.Page, parent bptpage.Internal, index int) {
	sdata, ndata := sibling.Data(), node.Data()

	if bptpage.IsLeaf(ndata) {
		leaf, sib := bptpage.NewLeaf(ndata), bptpage.NewLeaf(sdata)
		if index == 0 {
			k, v := sib.RemoveFirst()
			leaf.Append(k, v)
			sibIdx := parent.ValueIndex(sibling.ID())
			parent.SetKeyAt(sibIdx, sib.KeyAt(0))
		} else {
			k, v := sib.RemoveLast()
			leaf.Prepend(k, v)
			nodeIdx := parent.ValueIndex(node.ID())
			parent.SetKeyAt(nodeIdx, k)
		}
		return
	}

	in, isib := bptpage.NewInternal(ndata), bptpage.NewInternal(sdata)
	if index == 0 {
		sibIdx := parent.ValueIndex(sibling.ID())
		oldSep := parent.KeyAt(sibIdx)
		newSep := isib.KeyAt(1)
		_, v0 := isib.RemoveAt(0)
		in.InsertAt(in.Size(), oldSep, v0)
		t.mustReparent(v0, node.ID())
		parent.SetKeyAt(sibIdx, newSep)
	} else {
		nodeIdx := parent.ValueIndex(node.ID())
		oldSep := parent.KeyAt(nodeIdx)
		kRemoved, vRemoved := isib.RemoveAt(isib.Size() - 1)
		// InsertAt(0, ...) shifts the existing slot-0 entry (sentinel key,
		// real child) up to slot 1 as a unit, carrying its garbage sentinel
		// key along — so slot 1's key must be overwritten with oldSep, the
		// separator that actually belongs between vRemoved and that child.
		in.InsertAt(0, oldSep, vRemoved)
		in.SetKeyAt(1, oldSep)
		t.mustReparent(vRemoved, node.ID())
		parent.SetKeyAt(nodeIdx, kRemoved)
	}
}

// adjustRoot handles the root shrinking after a deletion: an empty leaf
// root means the tree is now empty; an internal root reduced to its one
// remaining child promotes that child to root. A promoted child that txn
// already holds write-latched has its parent pointer cleared in place.
func (t *Tree) adjustRoot(page *buffer.Page, txn *Transaction) bool {
	data := page.Data()
	if bptpage.IsLeaf(data) {
		if bptpage.NewLeaf(data).Size() > 0 {
			return false
		}
		t.storeRoot(disk.InvalidPageID)
		t.updateRootPageID()
		return true
	}

	in := bptpage.NewInternal(data)
	if in.Size() != 1 {
		return false
	}
	newRoot := in.RemoveAndReturnOnlyChild()
	t.storeRoot(newRoot)
	t.updateRootPageID()
	if held := txn.find(newRoot); held != nil {
		t.setParent(held, disk.InvalidPageID)
	} else {
		t.mustReparent(newRoot, disk.InvalidPageID)
	}
	return true
}

// findLeafPage descends from the root to the leaf that should hold key
// (or, if leftmost, the leftmost leaf), latch coupling along the way. For
// reads, each step drops the parent as soon as the child is latched. For
// writes, ancestors are kept pinned and latched in txn until a
// descendant proves itself "safe", at which point every ancestor held so
// far is released at once — retained ancestors are later found via
// txn.find rather than re-fetched (a second FetchPage on an
// already-write-latched page would deadlock).
func (t *Tree) findLeafPage(key bptpage.Key, leftmost bool, op opKind, txn *Transaction) (*buffer.Page, error) {
	if op != opRead {
		t.mu.Lock()
		txn.rootLocked = true
	}

	rootID := t.loadRoot()
	if rootID == disk.InvalidPageID {
		return nil, nil
	}

	page, err := t.pool.FetchPage(rootID)
	if err != nil {
		return nil, fmt.Errorf("bptree: fetch root: %w", err)
	}
	if page == nil {
		return nil, nil
	}
	if op == opRead {
		page.RLatch()
	} else {
		page.WLatch()
	}
	if !bptpage.Verify(page.Data()) {
		panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: corrupt root page %d (CRC mismatch)", rootID))
	}
	txn.addPage(page)

	for {
		data := page.Data()
		if bptpage.IsLeaf(data) {
			return page, nil
		}
		internal := bptpage.NewInternal(data)
		var childID disk.PageID
		if leftmost {
			childID = internal.ValueAt(0)
		} else {
			childID = internal.Lookup(key)
		}

		child, err := t.pool.FetchPage(childID)
		if err != nil {
			return nil, fmt.Errorf("bptree: descend to %d: %w", childID, err)
		}
		if child == nil {
			return nil, nil
		}
		if op == opRead {
			child.RLatch()
		} else {
			child.WLatch()
		}
		if !bptpage.Verify(child.Data()) {
			panic(fmt.Sprintf("bptree: INVARIANT_VIOLATION: corrupt page %d (CRC mismatch)", childID))
		}
		txn.addPage(child)

		if op == opRead {
			t.releaseAncestors(txn, op)
		} else if isSafeNode(child.Data(), op) {
			t.releaseAncestors(txn, op)
		}
		page = child
	}
}

// releaseAncestors unlatches and unpins every page in txn except the most
// recently added one.
func (t *Tree) releaseAncestors(txn *Transaction, op opKind) {
	if len(txn.pageSet) <= 1 {
		return
	}
	keep := txn.pageSet[len(txn.pageSet)-1]
	dirty := op != opRead
	for _, p := range txn.pageSet[:len(txn.pageSet)-1] {
		if op == opRead {
			p.RUnlatch()
		} else {
			bptpage.Seal(p.Data())
			p.WUnlatch()
		}
		t.pool.UnpinPage(p.ID(), dirty)
	}
	txn.pageSet = []*buffer.Page{keep}
}

// releaseTransaction unlatches and unpins every page txn is still
// holding, deallocates any pages queued for deletion, and — for write
// operations — releases the tree-wide mutex findLeafPage acquired.
func (t *Tree) releaseTransaction(txn *Transaction, op opKind) {
	dirty := op != opRead
	for _, p := range txn.pageSet {
		if op == opRead {
			p.RUnlatch()
		} else {
			bptpage.Seal(p.Data())
			p.WUnlatch()
		}
		t.pool.UnpinPage(p.ID(), dirty)
	}
	txn.pageSet = nil

	for _, id := range txn.deletedPageSet {
		t.pool.DeletePage(id)
	}
	txn.deletedPageSet = nil

	if txn.rootLocked {
		txn.rootLocked = false
		t.mu.Unlock()
	}
}
