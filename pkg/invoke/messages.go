package invoke

import (
	"fmt"
	"strings"

	"omegaclaw/pkg/utils"
)

// User-facing notification texts.

// StartedMessage announces a new build.
func StartedMessage(jobID, mode string) string {
	if mode == "" {
		mode = "FULL DISCOVERY"
	}
	return fmt.Sprintf("🚀 **Job Started**: %s\n\nMode: %s\nBuilding autonomously. I'll report after each phase.", jobID, mode)
}

// BlockedMessage asks the user for the information a blocker needs.
func BlockedMessage(jobID, content string) string {
	return fmt.Sprintf("⚠️ **Job Blocked**: %s\n\n%s\n\nReply with the requested information.", jobID, strings.TrimSpace(content))
}

// CompleteMessage announces a finished build.
func CompleteMessage(jobID, summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = "Build completed"
	}
	return fmt.Sprintf("✅ **Job Complete**: %s\n\n%s", jobID, utils.Truncate(summary, 500))
}

// PausedMessage reports that the cycle limit was hit.
func PausedMessage(jobID string) string {
	return fmt.Sprintf("⚠️ **Job Paused**: %s\n\nHit cycle limit. Send /resume %s to continue.", jobID, jobID)
}

// StalledMessage reports an unanswered blocker.
func StalledMessage(jobID string) string {
	return fmt.Sprintf("⏸️ **Job Stalled**: %s\n\nNo answer received. Reply to the blocker to resume.", jobID)
}

// FailedMessage reports a failed build without internals.
func FailedMessage(jobID string) string {
	return fmt.Sprintf("❌ **Job Failed**: %s\n\nThe build stopped with an error. Details are in the logs.", jobID)
}

// HandoffMessage reports a usage-limit handoff.
func HandoffMessage(jobID, to string) string {
	return fmt.Sprintf("🔁 **Usage Limit**: %s\n\nSwitching to %s.", jobID, to)
}

// ReportMessage wraps a relayed report summary.
func ReportMessage(summary string) string {
	return "📊 **Report**\n\n" + summary
}

// CancelledMessage confirms a user cancellation.
func CancelledMessage(jobID string) string {
	return fmt.Sprintf("🛑 **Job Cancelled**: %s", jobID)
}
