package txflow

import (
	"fmt"

	"omnipool/native/chains"
)

// Manager owns one Controller per action.
type Manager struct {
	controllers map[Action]*Controller
}

// NewManager builds a controller for every known action sharing the same
// collaborators and options.
func NewManager(caller ContractCaller, accounts AccountSource, registry *chains.Registry, opts ...Option) (*Manager, error) {
	m := &Manager{controllers: make(map[Action]*Controller, len(actionConfigs))}
	for _, action := range Actions() {
		ctrl, err := NewController(action, caller, accounts, registry, opts...)
		if err != nil {
			return nil, fmt.Errorf("txflow: build %s controller: %w", action, err)
		}
		m.controllers[action] = ctrl
	}
	return m, nil
}

// Controller returns the controller of action.
func (m *Manager) Controller(action Action) (*Controller, error) {
	ctrl, ok := m.controllers[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	return ctrl, nil
}

// Snapshots returns every live record in action order.
func (m *Manager) Snapshots() []Record {
	out := make([]Record, 0, len(m.controllers))
	for _, action := range Actions() {
		out = append(out, m.controllers[action].Snapshot())
	}
	return out
}
