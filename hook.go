package trackz

// Hook is the handle of a lifecycle event subscription returned by
// Registry.Hook. Keep it if the subscription must be removed later.
//
// Example:
//
//	hook, err := reg.Hook(trackz.EventFinalized, func(ctx context.Context, e trackz.Event) error {
//	    log.Printf("%s#%s was never closed", e.Class, e.ID)
//	    return nil
//	})
//	if err != nil {
//	    return err
//	}
//	defer hook.Unhook()
type Hook struct {
	// unhook removes the subscription; it is cleared after the first call.
	unhook func() error
}

// Unhook removes the subscription.
//
// Returns:
//   - nil: subscription removed
//   - ErrAlreadyUnhooked: the handle was already used or is the zero Hook
//   - ErrHookNotFound: the subscription was removed by Clear or ClearAll
func (h *Hook) Unhook() error {
	if h.unhook == nil {
		return ErrAlreadyUnhooked
	}
	err := h.unhook()
	h.unhook = nil
	return err
}
