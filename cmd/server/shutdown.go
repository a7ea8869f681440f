package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type httpServer interface {
	Shutdown(ctx context.Context) error
}

type connectionDrainer interface {
	Wait(ctx context.Context) error
}

type presenceResetter interface {
	Reset(ctx context.Context) error
}

// shutdownPlan stops the gateway in dependency order: no new handshakes,
// no new events, then close every connection and let each one release its
// presence before the process exits.
type shutdownPlan struct {
	server      httpServer
	httpTimeout time.Duration

	stopBridge  func()
	bridgeDone  <-chan struct{}
	bridgeGrace time.Duration

	stopHub func()
	hubDone <-chan struct{}

	conns        connectionDrainer
	drainTimeout time.Duration

	// presence is cleared outright when the connections do not drain in time.
	presence presenceResetter

	log zerolog.Logger
}

func (p shutdownPlan) run() {
	httpCtx, cancel := context.WithTimeout(context.Background(), p.httpTimeout)
	if err := p.server.Shutdown(httpCtx); err != nil {
		p.log.Error().Err(err).Msg("http shutdown")
	}
	cancel()

	// Let the bridge finish in-flight records, but not forever.
	p.stopBridge()
	grace := time.NewTimer(p.bridgeGrace)
	select {
	case <-p.bridgeDone:
	case <-grace.C:
		p.log.Warn().Dur("grace", p.bridgeGrace).Msg("bridge did not stop in time")
	}
	grace.Stop()

	// Closing the hub closes every connection's send queue.
	p.stopHub()
	<-p.hubDone

	drainCtx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()
	if err := p.conns.Wait(drainCtx); err == nil {
		return
	}
	p.log.Warn().Dur("timeout", p.drainTimeout).Msg("connections still open; clearing presence")
	resetCtx, cancelReset := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelReset()
	if err := p.presence.Reset(resetCtx); err != nil {
		p.log.Error().Err(err).Msg("presence reset")
	}
}
