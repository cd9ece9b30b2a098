package metrics

import (
	"github.com/keyguard/keyguardd/pkg/keyerrc"
	"github.com/keyguard/keyguardd/pkg/types"
)

// SecurityReporter records every keystore security event as a Prometheus
// counter, implementing keystore.SecurityReporter without importing the
// keystore package (it only needs the shared types.Operation vocabulary).
type SecurityReporter struct{}

func (SecurityReporter) Report(user types.UserId, slot types.SlotNumber, operation types.Operation, outcome error) {
	result := "ok"
	if outcome != nil {
		result = "denied"
		if keyerrc.CodeOf(outcome) == keyerrc.AccessViolation {
			AccessViolationsTotal.WithLabelValues(operation.String()).Inc()
		}
	}
	SecurityEventsTotal.WithLabelValues(operation.String(), result).Inc()
}
