// Package roles defines the role names plugins may declare and the
// interfaces a plugin filling a role is expected to satisfy.
package roles

import (
	"context"

	"github.com/wattscope/wattscope/pkg/energy"
)

// Role names plugins may declare in PluginInfo.Roles.
const (
	// RoleAnalytics marks plugins that compute consumption analytics.
	RoleAnalytics = "analytics"

	// RoleAutomation marks plugins that act on analytics output
	// (zone automation, device scheduling).
	RoleAutomation = "automation"
)

// AnalyticsProvider is the contract for RoleAnalytics plugins.
// Consumers resolve the provider through the plugin registry by role,
// so they never import the concrete analytics module.
type AnalyticsProvider interface {
	// Anomalies returns the current anomaly list, most confident first.
	Anomalies(ctx context.Context) ([]energy.Anomaly, error)

	// Performance returns the latest model performance summary.
	Performance(ctx context.Context) (energy.ModelPerformance, error)
}
