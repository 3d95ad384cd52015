// Package eventbus embeds a loopback-only NATS server the router uses
// to fan delivery/ack/task events out to the websocket hub, without
// the web package importing the router directly.
package eventbus

import (
	"fmt"
	"net"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus wraps an embedded, in-process NATS server bound to loopback
// only; nothing outside this machine can reach it.
type Bus struct {
	srv *natsserver.Server
}

// Options configures the embedded server.
type Options struct {
	Port       int
	StoreDir   string
	MaxPayload int32
}

// New starts an embedded NATS server and blocks until it is ready for
// connections or the 5s startup deadline passes.
func New(opts Options) (*Bus, error) {
	if opts.MaxPayload == 0 {
		opts.MaxPayload = 4 << 20
	}
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:       "127.0.0.1",
		Port:       opts.Port,
		StoreDir:   opts.StoreDir,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: opts.MaxPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("new nats server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("nats server not ready within 5s")
	}
	return &Bus{srv: srv}, nil
}

// ClientURL returns the loopback URL agents in this process use to
// connect.
func (b *Bus) ClientURL() string { return b.srv.ClientURL() }

// Port returns the bound port, useful when Options.Port was -1 (random).
func (b *Bus) Port() int {
	if tcpAddr, ok := b.srv.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// Close shuts the embedded server down.
func (b *Bus) Close() {
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
}
