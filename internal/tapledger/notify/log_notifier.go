package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the ops log. It is the default
// delivery path until a real gateway is wired in; operators alert off
// the log stream.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Error("administrator notification",
		zap.String("severity", string(msg.Severity)),
		zap.String("message", msg.Message),
		zap.Int64s("failed_sequences", msg.FailedSequences),
		zap.Any("gaps", msg.Gaps),
		zap.Strings("recipients", msg.Recipients),
	)
	return nil
}
