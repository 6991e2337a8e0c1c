package common

import "errors"

// ErrModulePaused is returned by Guard when the module's circuit breaker is
// engaged. Mutating entry points surface it unchanged so callers can test for
// the enforced pause with errors.Is.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause state of named modules.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
