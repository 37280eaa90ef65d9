// Package notify delivers human-readable job notifications.
package notify

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// ErrNoRecipients is returned when a message has no usable recipient.
var ErrNoRecipients = errors.New("notification has no recipients")

// Message is one notification.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
}

// Notifier sends notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Recipients merges address lists, dropping blanks and duplicates while
// keeping first-seen order.
func Recipients(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, addr := range list {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// LogNotifier writes notifications to a logger instead of delivering them.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a notifier that logs at info level.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Message) error {
	recipients := Recipients(msg.Recipients)
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	n.log.Info("notification",
		zap.String("subject", msg.Subject),
		zap.Strings("recipients", recipients),
		zap.String("body", msg.Body),
	)
	return nil
}
