package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/servobridge/pkg/log"
)

// Server is a long-running component started by the Manager.
type Server interface {
	Start(ctx context.Context) error
}

// ServerFunc adapts a function to the Server interface.
type ServerFunc func(ctx context.Context) error

func (f ServerFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager manages the lifecycle of the bridge's servers.
type Manager struct {
	servers []Server
}

// NewManager creates a manager for the given servers. Nil entries are skipped.
func NewManager(servers ...Server) *Manager {
	m := &Manager{}
	for _, s := range servers {
		if s != nil {
			m.servers = append(m.servers, s)
		}
	}
	return m
}

// Start launches all servers in parallel. The first error cancels the others
// and is returned once all of them have stopped.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
