package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenMachineSim/internal/config"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string   `json:"state"`
	Namespace        string   `json:"namespace"`
	NamespaceName    string   `json:"namespace_name,omitempty"`
	NamespaceIndex   uint16   `json:"namespace_index"`
	Endpoint         string   `json:"endpoint"`
	Endpoints        []string `json:"endpoints"`
	PointCount       int      `json:"point_count"`
	DynamicPoints    int      `json:"dynamic_points"`
	DroppedPoints    int      `json:"dropped_points"`
	ConnectedClients int      `json:"connected_clients"`
	StartedAt        int64    `json:"started_at,omitempty"`
}

type LifecycleManager interface {
	Config() *config.Config
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
