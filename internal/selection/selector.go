package selection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sube3494/bilidownloader/internal/metadata"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds the wait for a reply.
const DefaultTimeout = 30 * time.Second

// State of a selection session.
type State int

const (
	Idle State = iota
	AwaitingChoice
	Resolved
)

// Resolution reasons reported in Outcome.
const (
	ReasonSkipped   = "skipped"
	ReasonInput     = "input"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonError     = "error"
)

// Prompter shows the part list to the requester.
type Prompter interface {
	Prompt(ctx context.Context, text string) error
}

// Waiter delivers at most one further message from the same requester. It
// must return when ctx is done.
type Waiter interface {
	Wait(ctx context.Context) (string, error)
}

// Outcome is the result of one selection session.
type Outcome struct {
	Selection Selection
	Reason    string
	State     State
}

// Selector drives the Idle -> AwaitingChoice -> Resolved machine.
type Selector struct {
	timeout time.Duration
	log     *logrus.Logger
}

func NewSelector(timeout time.Duration, log *logrus.Logger) *Selector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Selector{timeout: timeout, log: log}
}

// Timeout returns the wait window.
func (s *Selector) Timeout() time.Duration {
	return s.timeout
}

// Select resolves exactly once. Selection problems never abort the download:
// every failure path resolves to All.
func (s *Selector) Select(ctx context.Context, video metadata.Video, prompter Prompter, waiter Waiter) Outcome {
	if len(video.Parts) <= 1 {
		return Outcome{Selection: AllParts, Reason: ReasonSkipped, State: Idle}
	}

	entry := s.log.WithFields(logrus.Fields{
		"component": "selector",
		"parts":     len(video.Parts),
	})
	entry.Info("Waiting for part selection")

	if err := prompter.Prompt(ctx, PromptText(video, s.timeout)); err != nil {
		entry.WithError(err).Warn("Failed to send part prompt, selecting all parts")
		return Outcome{Selection: AllParts, Reason: ReasonError, State: Resolved}
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := waiter.Wait(waitCtx)
	if err != nil {
		reason := ReasonError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonTimeout
		case errors.Is(err, context.Canceled):
			reason = ReasonCancelled
		}
		entry.WithFields(logrus.Fields{"reason": reason, "error": err}).Info("Part selection resolved to all parts")
		return Outcome{Selection: AllParts, Reason: reason, State: Resolved}
	}

	sel := Parse(reply, len(video.Parts))
	entry.WithField("selection", sel.Spec()).Info("Part selection resolved")
	return Outcome{Selection: sel, Reason: ReasonInput, State: Resolved}
}

// PromptText lists the parts and the accepted reply syntax.
func PromptText(video metadata.Video, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📹 %s\n\n发现 %d 个分P：\n", video.Title, len(video.Parts))
	for _, p := range video.Parts {
		fmt.Fprintf(&b, "  P%d: %s\n", p.Index, p.Title)
	}
	b.WriteString("\n请选择：\n")
	b.WriteString("  • 输入 'all' 或 '全部' - 下载全部分P\n")
	b.WriteString("  • 输入数字（如 1, 2, 3） - 下载指定分P\n")
	b.WriteString("  • 输入范围（如 1-3） - 下载指定范围的分P\n")
	b.WriteString("  • 输入多个数字（如 1,3,5） - 下载多个指定分P\n")
	fmt.Fprintf(&b, "\n💡 %d秒内未选择将自动下载全部", int(timeout.Seconds()))
	return b.String()
}
