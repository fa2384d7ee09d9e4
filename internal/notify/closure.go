package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// EventPositionClosed is the event type under which closure notifications are
// dispatched.
const EventPositionClosed = "position_closed"

// PositionClosed formats and dispatches a closure notification for a resolved
// position.
func (n *Notifier) PositionClosed(ctx context.Context, notice domain.ClosureNotice) error {
	title := fmt.Sprintf("%s %s closed", notice.Pair, strings.ToUpper(string(notice.Direction)))
	return n.Notify(ctx, EventPositionClosed, title, FormatClosure(notice))
}

// FormatClosure renders the closure message body.
func FormatClosure(notice domain.ClosureNotice) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Entry: %g\n", notice.Entry)
	fmt.Fprintf(&sb, "Stop: %g\n", notice.Stop)
	if notice.Target > 0 {
		fmt.Fprintf(&sb, "Target: %g\n", notice.Target)
	}
	fmt.Fprintf(&sb, "Closed at %g (%s)\n", notice.ClosingPrice, notice.ClosedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&sb, "Realized: %.2fR", notice.RealizedMultiple)
	return sb.String()
}
