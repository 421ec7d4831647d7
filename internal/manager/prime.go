package manager

import (
	"context"
	"fmt"
)

// Prime replays the last known approved plan and iteration summary into a
// freshly (re)created Manager session, used by the Orchestrator's
// reconnect-after-session-error path so the Manager regains working context
// without replaying the full transcript.
func (m *Manager) Prime(ctx context.Context, approvedPlan, previousIterationSummary string) (string, error) {
	if approvedPlan == "" && previousIterationSummary == "" {
		return "", nil
	}
	prompt := fmt.Sprintf(
		"Reconnecting after a session error. For context, your approved execution plan was:\n%s\n\n"+
			"The previous iteration's summary was:\n%s\n\nAcknowledge briefly and continue.",
		approvedPlan, previousIterationSummary,
	)
	return m.send(ctx, prompt)
}
