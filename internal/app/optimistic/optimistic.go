// Package optimistic factors the capture/apply/confirm/rollback discipline
// shared by voice toggles and channel reordering.
package optimistic

import "context"

// Mutation is one optimistic edit. Apply runs before Send so a reader can
// never observe "request sent" without the local effect; Restore receives
// the pre-edit snapshot when the server rejects or the transport fails.
type Mutation[S any] struct {
	Snapshot S
	Apply    func()
	Send     func(context.Context) error
	Restore  func(S)
}

// Run applies the edit and confirms it with the server. Rejection and
// transport failure are treated identically: the snapshot is restored and
// the error returned for the caller to surface.
func (m Mutation[S]) Run(ctx context.Context) error {
	if m.Apply != nil {
		m.Apply()
	}
	if err := m.Send(ctx); err != nil {
		if m.Restore != nil {
			m.Restore(m.Snapshot)
		}
		return err
	}
	return nil
}
