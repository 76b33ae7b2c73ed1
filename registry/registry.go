// Package registry tracks the live protocol objects of a single client
// connection.
//
// A Registry is an arena keyed by object ID. Objects refer to each
// other by ID and are looked up through the registry instead of
// holding pointers to each other. Destroying an object condemns it: it
// stays lookupable until every outstanding reference to it, such as an
// in-flight frame that is still reading one of its buffers, has been
// dropped, at which point it is freed and its ID becomes reusable.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ID is a protocol object identifier.
type ID uint32

// Ranges of IDs. IDs in the client range are allocated by the client
// and inserted with Insert. IDs in the server range are allocated by
// Create.
const (
	ClientIDMin ID = 0x00000001
	ClientIDMax ID = 0xfeffffff
	ServerIDMin ID = 0xff000000
	ServerIDMax ID = 0xffffffff
)

var (
	// ErrExhaustedIdentifiers is returned by Create when every ID in
	// the registry's range is in use.
	ErrExhaustedIdentifiers = errors.New("object identifiers exhausted")

	// ErrUnknownObject is returned when an operation refers to an ID
	// that does not name a live object.
	ErrUnknownObject = errors.New("unknown object")
)

// IDInUseError is returned by Insert if the requested ID is already
// taken.
type IDInUseError struct {
	ID ID
}

func (err IDInUseError) Error() string {
	return fmt.Sprintf("object ID %v already in use", err.ID)
}

// IDRangeError is returned by Insert if the requested ID is outside
// of the client range.
type IDRangeError struct {
	ID ID
}

func (err IDRangeError) Error() string {
	return fmt.Sprintf("object ID %v outside of client range", err.ID)
}

// Entry describes an object stored in a Registry.
type Entry struct {
	ID        ID
	Kind      Kind
	Value     any
	Refs      int
	Condemned bool
}

type entry struct {
	kind      Kind
	value     any
	refs      int
	condemned bool
	onFree    []func()
}

// Registry is an arena of objects indexed by ID. It is not safe for
// concurrent use; it is meant to be accessed only from the event loop
// that dispatches requests for its client.
type Registry struct {
	objects map[ID]*entry
	next    ID
	min     ID
	max     ID
	server  int
}

// New returns a registry that allocates server IDs from the range
// [min, max].
func New(min, max ID) *Registry {
	if max < min {
		panic(fmt.Errorf("invalid ID range [%v, %v]", min, max))
	}

	return &Registry{
		objects: make(map[ID]*entry),
		next:    min,
		min:     min,
		max:     max,
	}
}

// NewClient returns a registry that allocates server IDs from the
// range reserved for them by the protocol.
func NewClient() *Registry {
	return New(ServerIDMin, ServerIDMax)
}

func (r *Registry) capacity() int {
	return int(r.max-r.min) + 1
}

// Create allocates a new server-side ID for an object of the given
// kind.
func (r *Registry) Create(kind Kind, value any) (ID, error) {
	if r.server >= r.capacity() {
		return 0, ErrExhaustedIdentifiers
	}

	for {
		id := r.next
		if r.next == r.max {
			r.next = r.min
		} else {
			r.next++
		}

		if _, ok := r.objects[id]; ok {
			continue
		}

		r.objects[id] = &entry{kind: kind, value: value}
		r.server++
		return id, nil
	}
}

// Insert adds an object with a client-allocated ID.
func (r *Registry) Insert(id ID, kind Kind, value any) error {
	if (id < ClientIDMin) || (id > ClientIDMax) {
		return IDRangeError{ID: id}
	}
	if _, ok := r.objects[id]; ok {
		return IDInUseError{ID: id}
	}

	r.objects[id] = &entry{kind: kind, value: value}
	return nil
}

// Lookup returns the object with the given ID. Condemned objects are
// still returned.
func (r *Registry) Lookup(id ID) (Entry, bool) {
	e, ok := r.objects[id]
	if !ok {
		return Entry{}, false
	}

	return Entry{
		ID:        id,
		Kind:      e.kind,
		Value:     e.value,
		Refs:      e.refs,
		Condemned: e.condemned,
	}, true
}

// Get returns the value stored under id if it exists, has not been
// condemned and has type T.
func Get[T any](r *Registry, id ID) (v T, ok bool) {
	e, ok := r.objects[id]
	if !ok || e.condemned {
		return v, false
	}

	v, ok = e.value.(T)
	return v, ok
}

// Condemned reports whether the object has been destroyed but is still
// waiting for references to it to be dropped.
func (r *Registry) Condemned(id ID) bool {
	e, ok := r.objects[id]
	return ok && e.condemned
}

// Destroy condemns the object. If nothing holds a reference to it, it
// is freed immediately.
func (r *Registry) Destroy(id ID) error {
	e, ok := r.objects[id]
	if !ok || e.condemned {
		return fmt.Errorf("destroy %v: %w", id, ErrUnknownObject)
	}

	e.condemned = true
	if e.refs == 0 {
		r.free(id, e)
	}
	return nil
}

// Ref adds an outstanding reference to the object, delaying it being
// freed after it has been destroyed.
func (r *Registry) Ref(id ID) error {
	e, ok := r.objects[id]
	if !ok {
		return fmt.Errorf("ref %v: %w", id, ErrUnknownObject)
	}

	e.refs++
	return nil
}

// Unref drops a reference added with Ref. If the object has been
// condemned and this was the last reference, the object is freed.
func (r *Registry) Unref(id ID) {
	e, ok := r.objects[id]
	if !ok {
		return
	}
	if e.refs == 0 {
		panic(fmt.Errorf("unbalanced unref of object %v", id))
	}

	e.refs--
	if e.condemned && (e.refs == 0) {
		r.free(id, e)
	}
}

// OnFree registers f to be called when the object is freed.
func (r *Registry) OnFree(id ID, f func()) error {
	e, ok := r.objects[id]
	if !ok {
		return fmt.Errorf("on free %v: %w", id, ErrUnknownObject)
	}

	e.onFree = append(e.onFree, f)
	return nil
}

func (r *Registry) free(id ID, e *entry) {
	delete(r.objects, id)
	if (id >= r.min) && (id <= r.max) {
		r.server--
	}

	for _, f := range e.onFree {
		f()
	}
}

// Teardown condemns every live object, as happens when the client
// disconnects. Objects still referenced by in-flight frames are freed
// once those references drop.
func (r *Registry) Teardown() {
	for _, id := range r.ids() {
		e, ok := r.objects[id]
		if !ok || e.condemned {
			continue
		}

		e.condemned = true
		if e.refs == 0 {
			r.free(id, e)
		}
	}
}

// Len returns the number of objects in the registry, including
// condemned ones.
func (r *Registry) Len() int {
	return len(r.objects)
}

// Each calls f for every object in ascending ID order until f returns
// false.
func (r *Registry) Each(f func(Entry) bool) {
	for _, id := range r.ids() {
		e, ok := r.Lookup(id)
		if !ok {
			continue
		}
		if !f(e) {
			return
		}
	}
}

func (r *Registry) ids() []ID {
	return slices.Sorted(maps.Keys(r.objects))
}
