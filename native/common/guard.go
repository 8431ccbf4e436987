package common

import (
	"fmt"

	coreerrors "claimbridge/core/errors"
)

// PauseView reports whether a named domain is currently refusing mutations.
type PauseView interface {
	IsPaused(domain string) bool
}

// Guard fails with an error wrapping ErrPaused when domain is paused. A nil
// view or unnamed domain never blocks.
func Guard(view PauseView, domain string) error {
	if view == nil || domain == "" || !view.IsPaused(domain) {
		return nil
	}
	return fmt.Errorf("domain %s: %w", domain, coreerrors.ErrPaused)
}
