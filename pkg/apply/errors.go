package apply

import (
	"fmt"
	"strings"
)

// ProvisioningError reports an apply that did not complete. It carries the
// partial plan state so the operator can remediate and re-apply; steps in
// Completed are skipped by the next apply against the same state.
type ProvisioningError struct {
	ExecutionID string
	Failed      []string
	Completed   []string
	Skipped     []string
	Pending     []string
	Cause       error
}

func (e *ProvisioningError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provisioning failed: %d failed", len(e.Failed))
	if len(e.Failed) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Failed, ", "))
	}
	fmt.Fprintf(&b, ", %d completed, %d skipped, %d pending", len(e.Completed), len(e.Skipped), len(e.Pending))
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ProvisioningError) Unwrap() error {
	return e.Cause
}
