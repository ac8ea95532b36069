// Package deployapi talks to the deployment-management API: listing and
// inspecting deployments, submitting updated manifests and closing them.
package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThilakShekharShriyan/akash-autopilot/internal/store"
)

// API is the deployment-management surface the loop depends on.
type API interface {
	List(ctx context.Context) ([]Descriptor, error)
	Get(ctx context.Context, id string) (*Descriptor, error)
	Update(ctx context.Context, id string, m Manifest) (map[string]any, error)
	Close(ctx context.Context, id string) (bool, error)
}

// FlexString decodes from either a JSON string or a JSON number. Upstream
// sequence numbers arrive in both forms.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// Service is one sub-service of a deployment. A nil Replicas means the
// service runs the default single replica.
type Service struct {
	Replicas  *int           `json:"replicas,omitempty"`
	Image     string         `json:"image,omitempty"`
	Resources map[string]any `json:"resources,omitempty"`
}

// Descriptor is a deployment as reported by the API.
type Descriptor struct {
	DSeq     FlexString         `json:"dseq,omitempty"`
	ID       FlexString         `json:"id,omitempty"`
	Name     string             `json:"name,omitempty"`
	Status   string             `json:"status,omitempty"`
	SDL      string             `json:"sdl,omitempty"`
	Services map[string]Service `json:"services,omitempty"`
	Metrics  map[string]any     `json:"metrics,omitempty"`
}

// Identifier returns dseq, falling back to id, then "unknown".
func (d *Descriptor) Identifier() string {
	if d.DSeq != "" {
		return string(d.DSeq)
	}
	if d.ID != "" {
		return string(d.ID)
	}
	return "unknown"
}

// DisplayName returns the name or "unnamed".
func (d *Descriptor) DisplayName() string {
	if d.Name == "" {
		return "unnamed"
	}
	return d.Name
}

// ReplicaCount sums replicas across services; a service without an
// explicit count contributes one.
func (d *Descriptor) ReplicaCount() int {
	total := 0
	for _, svc := range d.Services {
		if svc.Replicas == nil {
			total++
			continue
		}
		if *svc.Replicas > 0 {
			total += *svc.Replicas
		}
	}
	return total
}

// Snapshot converts d into the store's snapshot form, observed at now.
func (d *Descriptor) Snapshot(now time.Time) *store.DeploymentSnapshot {
	return &store.DeploymentSnapshot{
		ID:           d.Identifier(),
		Name:         d.DisplayName(),
		Status:       store.ParseDeploymentStatus(d.Status),
		ReplicaCount: d.ReplicaCount(),
		Metrics:      d.Metrics,
		ObservedAt:   now,
	}
}

// Manifest is the body of an update request. Replicas is the requested
// replica target, when the update is a scale.
type Manifest struct {
	SDL      string `json:"sdl"`
	Replicas *int   `json:"replicas,omitempty"`
}
