package recommender

import (
	"context"
	"log/slog"
)

// Mock always recommends doing nothing.
type Mock struct {
	logger *slog.Logger
}

// NewMock returns a Mock (nil logger means slog.Default()).
func NewMock(logger *slog.Logger) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mock{logger: logger}
}

func (m *Mock) Recommend(ctx context.Context, b Bundle) (map[string]any, error) {
	m.logger.Info("using mock recommender (no_action)")
	return map[string]any{
		"reasoning": "Mock client - no action taken",
		"actions": []any{
			map[string]any{"type": "no_action"},
		},
	}, nil
}
