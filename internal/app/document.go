package app

import (
	"sync"

	"github.com/automerge/automerge-go"

	"github.com/codecollab/collabd/internal/domain"
)

// Document owns the shared CRDT state of one room: a "code" text, an "input"
// text and an "output" map with a single "text" slot. All mutation goes
// through this wrapper so update listeners observe every merge, local or
// remote. The automerge document itself is the black-box merge primitive.
type Document struct {
	roomID domain.RoomID

	mu  sync.Mutex
	doc *automerge.Doc

	lmu       sync.Mutex
	nextID    int
	listeners map[int]func()
}

func NewDocument(roomID domain.RoomID) *Document {
	return &Document{
		roomID:    roomID,
		doc:       automerge.New(),
		listeners: make(map[int]func()),
	}
}

func (d *Document) RoomID() domain.RoomID { return d.roomID }

// OnUpdate registers fn to run after any merge is applied to the document,
// and returns a cancel func removing the registration. Listeners run outside
// the document lock and must not block.
func (d *Document) OnUpdate(fn func()) (cancel func()) {
	d.lmu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.lmu.Unlock()
	return func() {
		d.lmu.Lock()
		delete(d.listeners, id)
		d.lmu.Unlock()
	}
}

func (d *Document) notify() {
	d.lmu.Lock()
	fns := make([]func(), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.lmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SeedCode inserts code into the live "code" text only when it is still
// empty. Seeding an occupied field is a no-op so stale snapshots can never
// clobber live edits.
func (d *Document) SeedCode(code string) error {
	return d.seedText("code", code)
}

func (d *Document) SeedInput(input string) error {
	return d.seedText("input", input)
}

func (d *Document) seedText(field, value string) error {
	if value == "" {
		return nil
	}
	d.mu.Lock()
	text := d.doc.Path(field).Text()
	if text.Len() != 0 {
		d.mu.Unlock()
		return nil
	}
	err := text.Insert(0, value)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.notify()
	return nil
}

// SeedOutput fills the "text" slot of the output map if it is still unset.
func (d *Document) SeedOutput(output string) error {
	if output == "" {
		return nil
	}
	d.mu.Lock()
	m := d.doc.Path("output").Map()
	if v, err := m.Get("text"); err == nil && v.Kind() == automerge.KindStr {
		d.mu.Unlock()
		return nil
	}
	err := m.Set("text", output)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.notify()
	return nil
}

// CodeEmpty reports whether the live code text has no content yet.
func (d *Document) CodeEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Path("code").Text().Len() == 0
}

// Flatten projects the document to its persisted snapshot form.
func (d *Document) Flatten() domain.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := domain.Snapshot{RoomID: d.roomID}
	if s, err := d.doc.Path("code").Text().Get(); err == nil {
		snap.Code = s
	}
	if s, err := d.doc.Path("input").Text().Get(); err == nil {
		snap.Input = s
	}
	if v, err := d.doc.Path("output").Map().Get("text"); err == nil && v.Kind() == automerge.KindStr {
		snap.Output = v.Str()
	}
	return snap
}

// NewSyncState creates a per-connection replication state over this document.
func (d *Document) NewSyncState() *automerge.SyncState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return automerge.NewSyncState(d.doc)
}

// ReceiveSync applies one peer sync message and notifies listeners. The merge
// is commutative and idempotent, so reordered or duplicated messages from a
// reconnecting peer still converge.
func (d *Document) ReceiveSync(ss *automerge.SyncState, msg []byte) error {
	d.mu.Lock()
	_, err := ss.ReceiveMessage(msg)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	d.notify()
	return nil
}

// GenerateSync produces the next outbound sync message for a connection, or
// ok=false when the peer is up to date.
func (d *Document) GenerateSync(ss *automerge.SyncState) (msg []byte, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, valid := ss.GenerateMessage(); valid {
		return m.Bytes(), true
	}
	return nil, false
}
