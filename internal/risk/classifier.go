package risk

import (
	"context"
	"log/slog"
	"time"
)

// Classifier is the external content-risk service. Implementations may call
// an LLM or any remote scoring API; they are expected to be slow and flaky.
type Classifier interface {
	Analyze(ctx context.Context, text string) (ClassifierResult, error)
}

// noopClassifier always returns the safe default. Used when no external
// classifier is configured.
type noopClassifier struct{}

func (noopClassifier) Analyze(context.Context, string) (ClassifierResult, error) {
	return SafeDefault(), nil
}

// NoopClassifier returns a classifier that reports everything as safe.
func NoopClassifier() Classifier {
	return noopClassifier{}
}

// Classify invokes the classifier with a bounded timeout and converts any
// error or timeout into the safe default, logging the outage. Classifier
// unavailability must never surface to the message path.
func Classify(ctx context.Context, c Classifier, text string, timeout time.Duration, logger *slog.Logger) ClassifierResult {
	if c == nil {
		return SafeDefault()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.Analyze(ctx, text)
	if err != nil {
		logger.WarnContext(ctx, "content classifier unavailable, using safe default",
			slog.String("error", err.Error()),
		)
		return SafeDefault()
	}
	return result
}
