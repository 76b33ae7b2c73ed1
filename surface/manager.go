package surface

import (
	"fmt"

	"deedles.dev/wlkit/internal/logger"
	"deedles.dev/wlkit/registry"
	"github.com/charmbracelet/log"
)

// Manager owns the surfaces of a single client.
type Manager struct {
	reg      *registry.Registry
	log      *log.Logger
	onCommit []func(*Surface)
}

// NewManager returns a Manager that stores surfaces in reg. If l is
// nil, the default logger is used.
func NewManager(reg *registry.Registry, l *log.Logger) *Manager {
	return &Manager{
		reg: reg,
		log: logger.Or(l).WithPrefix("surface"),
	}
}

// Registry returns the registry that the manager stores surfaces in.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

// OnCommit registers f to be called whenever state is applied to any of
// the manager's surfaces.
func (m *Manager) OnCommit(f func(*Surface)) {
	m.onCommit = append(m.onCommit, f)
}

// Create creates a surface with the client-allocated ID id.
func (m *Manager) Create(id registry.ID) (*Surface, error) {
	s := &Surface{
		m:            m,
		id:           id,
		current:      initialState(),
		stack:        []registry.ID{id},
		pendingStack: []registry.ID{id},
	}
	if err := m.reg.Insert(id, registry.KindSurface, s); err != nil {
		return nil, fmt.Errorf("create surface: %w", err)
	}

	m.log.Debug("create surface", "surface", id)
	return s, nil
}

// Get returns the live surface with the given ID.
func (m *Manager) Get(id registry.ID) (*Surface, bool) {
	return registry.Get[*Surface](m.reg, id)
}

// Subsurface turns the surface id into a sub-surface of parent. The
// new sub-surface is placed on top of its parent's stack and starts
// out in synchronized mode.
func (m *Manager) Subsurface(id, parent registry.ID) (*Surface, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("sub-surface %v: %w", id, registry.ErrUnknownObject)
	}
	p, ok := m.Get(parent)
	if !ok {
		return nil, fmt.Errorf("sub-surface %v of %v: %w", id, parent, ErrBadParent)
	}

	if (s.role == RoleSubsurface) && s.roleActive {
		return nil, fmt.Errorf("sub-surface %v: %w", id, ErrBadSurface)
	}
	for a := p; a != nil; a, _ = a.Parent() {
		if a == s {
			return nil, fmt.Errorf("sub-surface %v would be an ancestor of itself: %w", id, ErrBadParent)
		}
	}

	if err := s.SetRole(RoleSubsurface, nil); err != nil {
		return nil, err
	}

	s.sub = subsurface{parent: parent}
	p.stack = append(p.stack, id)
	p.pendingStack = append(p.pendingStack, id)
	return s, nil
}
