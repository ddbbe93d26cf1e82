package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/servobridge/internal/actuator"
	"github.com/autopeer-io/servobridge/internal/bridge/server"
	"github.com/autopeer-io/servobridge/internal/bridge/server/http"
	"github.com/autopeer-io/servobridge/internal/controller"
	"github.com/autopeer-io/servobridge/internal/transport"
	"github.com/autopeer-io/servobridge/pkg/log"
)

const closeTimeout = 3 * time.Second

var _ http.Status = (*Bridge)(nil)

// Bridge connects the detection stream to the actuator.
type Bridge struct {
	link       *actuator.Link
	session    *transport.Session
	controller *controller.Controller
	httpServer *http.Server
}

// Run connects to the broker and drives the controller until ctx ends or a
// fatal error occurs. The session and the serial port are closed on return.
func (b *Bridge) Run(ctx context.Context) error {
	log.Info("Starting servobridge...", "clientID", b.session.ClientID())
	defer b.close()

	servers := []server.Server{server.ServerFunc(b.runController)}
	if b.httpServer != nil {
		servers = append(servers, server.ServerFunc(b.runHTTP))
	}

	return server.NewManager(servers...).Start(ctx)
}

func (b *Bridge) runController(ctx context.Context) error {
	if err := b.session.ConnectWithRetry(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %w", controller.ErrFatal, err)
	}
	return b.controller.Run(ctx)
}

// runHTTP keeps health and metrics off the fatal path: if the endpoint cannot serve,
// actuation goes on without it.
func (b *Bridge) runHTTP(ctx context.Context) error {
	if err := b.httpServer.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error(err, "HTTP endpoint failed, continuing without health and metrics")
		<-ctx.Done()
	}
	return nil
}

func (b *Bridge) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	b.session.Close(ctx)
	if err := b.link.Close(); err != nil {
		log.Error(err, "Failed to close actuator link")
	}
	log.Info("servobridge stopped")
}

func (b *Bridge) TransportHealthy() bool { return b.session.IsHealthy() }

func (b *Bridge) ActuatorReady() bool { return b.link.IsReady() }

func (b *Bridge) Snapshot() controller.Snapshot { return b.controller.Snapshot() }
