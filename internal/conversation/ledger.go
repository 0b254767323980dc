package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

var ErrDuplicateItem = errors.New("item id already present")

// Item is one turn in the conversation transcript.
type Item struct {
	ID        string    `json:"id"`
	Role      string    `json:"role,omitempty"`
	Kind      string    `json:"type,omitempty"`
	Status    Status    `json:"status"`
	Formatted Formatted `json:"formatted"`
}

// Formatted bundles the optional renderings of an item. Audio is immutable
// once the item completes; transcript and file may fill in incrementally.
type Formatted struct {
	Text       string          `json:"text,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Audio      []byte          `json:"audio,omitempty"`
	File       []float32       `json:"file,omitempty"`
	Tool       json.RawMessage `json:"tool,omitempty"`
}

// Ledger is the ordered, mutable collection of exchange items. Insertion
// order is append order and is preserved for display.
type Ledger struct {
	mu    sync.RWMutex
	items []*Item
	byID  map[string]*Item
}

func NewLedger() *Ledger {
	return &Ledger{byID: make(map[string]*Item)}
}

// Items returns a snapshot of items in insertion order. Mutating the
// snapshot never affects ledger state.
func (l *Ledger) Items() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, cloneItem(it))
	}
	return out
}

// Get returns a copy of the item with the given id.
func (l *Ledger) Get(id string) (Item, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	it, ok := l.byID[id]
	if !ok {
		return Item{}, false
	}
	return cloneItem(it), true
}

// Add appends a new item. Adding an id that already exists is a caller
// error; the protocol layer decides merge-vs-insert, not the ledger.
func (l *Ledger) Add(item Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byID[item.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateItem, item.ID)
	}
	stored := cloneItem(&item)
	l.items = append(l.items, &stored)
	l.byID[item.ID] = &stored
	return nil
}

// Apply mutates the item with the given id in place under the ledger lock.
// Reports whether the item existed.
func (l *Ledger) Apply(id string, fn func(*Item)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.byID[id]
	if !ok {
		return false
	}
	fn(it)
	return true
}

// Remove deletes the item with the given id if present; no-op otherwise.
func (l *Ledger) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok {
		return
	}
	delete(l.byID, id)
	for i, it := range l.items {
		if it.ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
}

// Reset clears all items. Used when a session is fully torn down.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
	l.byID = make(map[string]*Item)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func cloneItem(it *Item) Item {
	out := *it
	if it.Formatted.Audio != nil {
		out.Formatted.Audio = append([]byte(nil), it.Formatted.Audio...)
	}
	if it.Formatted.File != nil {
		out.Formatted.File = append([]float32(nil), it.Formatted.File...)
	}
	if it.Formatted.Tool != nil {
		out.Formatted.Tool = append(json.RawMessage(nil), it.Formatted.Tool...)
	}
	return out
}
