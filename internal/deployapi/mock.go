package deployapi

import (
	"context"
	"log/slog"
)

// Mock serves a single canned deployment. It is used when no API key is
// configured.
type Mock struct {
	logger *slog.Logger
}

// NewMock returns a Mock logging to logger (nil means slog.Default()).
func NewMock(logger *slog.Logger) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mock{logger: logger}
}

func intPtr(n int) *int { return &n }

func mockDescriptor(id string) Descriptor {
	return Descriptor{
		DSeq:   FlexString(id),
		Name:   "test-deployment",
		Status: "active",
		Services: map[string]Service{
			"web": {
				Replicas:  intPtr(1),
				Image:     "nginx:latest",
				Resources: map[string]any{"cpu": "0.5", "memory": "512Mi"},
			},
		},
		Metrics: map[string]any{
			"cpu_usage":      45,
			"memory_usage":   60,
			"uptime_seconds": 3600,
		},
	}
}

func (m *Mock) List(ctx context.Context) ([]Descriptor, error) {
	m.logger.Info("using mock deployment api")
	return []Descriptor{mockDescriptor("12345")}, nil
}

func (m *Mock) Get(ctx context.Context, id string) (*Descriptor, error) {
	d := mockDescriptor(id)
	return &d, nil
}

func (m *Mock) Update(ctx context.Context, id string, man Manifest) (map[string]any, error) {
	m.logger.Info("mock: updated deployment", "deployment_id", id)
	return map[string]any{"success": true, "deployment_id": id}, nil
}

func (m *Mock) Close(ctx context.Context, id string) (bool, error) {
	m.logger.Info("mock: closed deployment", "deployment_id", id)
	return true, nil
}
