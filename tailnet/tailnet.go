// Package tailnet runs an embedded Tailscale node, to expose listeners on a tailnet without installing Tailscale on the host.
package tailnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"tailscale.com/tsnet"
)

const defaultPort = 443

// Options contains options for Up.
type Options struct {
	// Hostname of the node in the tailnet (required)
	Hostname string

	// Auth key
	// This is only used on first startup (or if the node key has expired and it needs to be re-authenticated)
	// If this is empty, the auth key can also be read from the TS_AUTH_KEY env var or users can use interactive login
	AuthKey string

	// If true, the node is removed from the tailnet when it goes offline
	Ephemeral bool

	// Directory where to store the node's state
	StateDir string

	// Tags applied to the node, for ACLs
	// Each tag must begin with "tag:"
	Tags []string

	// Logger; defaults to slog.Default()
	Logger *slog.Logger

	// Enables debug logging from tsnet
	DebugLogging bool
}

// Validate returns an error if the options are not valid.
func (o Options) Validate() error {
	if o.Hostname == "" {
		return errors.New("hostname is required")
	}
	for _, tag := range o.Tags {
		if !strings.HasPrefix(tag, "tag:") || len(tag) == len("tag:") {
			return fmt.Errorf("invalid tag '%s': tags must be in the format 'tag:name'", tag)
		}
	}
	return nil
}

// Node is a Tailscale node running in the process.
type Node struct {
	server   *tsnet.Server
	hostname string
	ip4      string
	ip6      string
}

// Up starts a node and waits until it's connected to the tailnet.
func Up(ctx context.Context, opts Options) (*Node, error) {
	err := opts.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With(slog.String("scope", "tsnet"))

	tsrv := &tsnet.Server{
		Hostname:  opts.Hostname,
		AuthKey:   opts.AuthKey,
		Dir:       opts.StateDir,
		Ephemeral: opts.Ephemeral,
		UserLogf: func(format string, args ...any) {
			log.Info(fmt.Sprintf(format, args...))
		},
		AdvertiseTags: opts.Tags,
	}
	if opts.DebugLogging {
		tsrv.Logf = func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		}
	}

	state, err := tsrv.Up(ctx)
	if err != nil {
		_ = tsrv.Close()
		return nil, fmt.Errorf("failed to bring up Tailscale node: %w", err)
	}

	n := &Node{
		server:   tsrv,
		hostname: strings.TrimSuffix(state.Self.DNSName, "."),
	}
	for _, addr := range state.TailscaleIPs {
		switch {
		case !addr.IsValid():
			continue
		case addr.Is6():
			n.ip6 = addr.String()
		case addr.Is4():
			n.ip4 = addr.String()
		}
	}

	log.Info("Tailscale node is up",
		slog.String("hostname", n.hostname),
		slog.String("ip4", n.ip4),
		slog.String("ip6", n.ip6),
	)

	return n, nil
}

// Hostname returns the fully-qualified name of the node in the tailnet.
func (n *Node) Hostname() string {
	return n.hostname
}

// Addrs returns the IPv4 and IPv6 addresses of the node.
func (n *Node) Addrs() (ip4 string, ip6 string) {
	return n.ip4, n.ip6
}

// ListenTLS returns a listener on the tailnet, on the given port, that terminates TLS using a certificate for the node's name.
// If port is 0, 443 is used.
func (n *Node) ListenTLS(port int) (net.Listener, error) {
	if port == 0 {
		port = defaultPort
	}

	ln, err := n.server.ListenTLS("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("failed to create tailnet listener: %w", err)
	}
	return ln, nil
}

// URL returns the base URL of a server listening with ListenTLS on port.
func (n *Node) URL(port int) string {
	if port == 0 || port == defaultPort {
		return "https://" + n.hostname
	}
	return "https://" + n.hostname + ":" + strconv.Itoa(port)
}

// Close shuts down the node.
func (n *Node) Close() error {
	err := n.server.Close()
	if err != nil {
		return fmt.Errorf("failed to close Tailscale node: %w", err)
	}
	return nil
}
