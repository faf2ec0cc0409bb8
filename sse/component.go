package sse

import (
	"context"
	"fmt"

	"github.com/kbukum/pushgate/component"
)

// Component wraps the Registry as a lifecycle-managed component so
// shutdown drains every open stream through CloseAll.
type Component struct {
	registry *Registry
	path     string
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent wraps registry, reporting path in the startup summary.
func NewComponent(registry *Registry, path string) *Component {
	return &Component{registry: registry, path: path}
}

// Registry returns the wrapped registry.
func (c *Component) Registry() *Registry { return c.registry }

// Name returns the component name.
func (c *Component) Name() string { return "sse" }

// Start is a no-op; the registry has no background loop. Pushes are
// non-blocking and draining happens on the transport side.
func (c *Component) Start(_ context.Context) error { return nil }

// Stop completes every open stream.
func (c *Component) Stop(_ context.Context) error {
	c.registry.CloseAll()
	return nil
}

// Health reports the current connection count.
func (c *Component) Health(_ context.Context) component.Health {
	return component.Health{
		Name:    c.Name(),
		Status:  component.StatusHealthy,
		Message: fmt.Sprintf("%d clients connected", c.registry.Count()),
	}
}

// Describe returns summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "SSE Registry",
		Type:    "sse",
		Details: fmt.Sprintf("Path: %s", c.path),
	}
}
