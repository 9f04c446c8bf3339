package config

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/breeze-rmm/lanmouse/internal/proto"
	"github.com/breeze-rmm/lanmouse/internal/registry"
)

// ResolveClients turns each configured ClientEntry's hostname into
// candidate netip.AddrPort values via DNS, producing the registry.Config
// list the registry is populated from. This is the "DNS resolution"
// component spec.md places out of scope for the core; a complete daemon
// needs a concrete implementation feeding the registry.
func ResolveClients(ctx context.Context, cfg *Config) ([]registry.Config, error) {
	out := make([]registry.Config, 0, len(cfg.Clients))
	for _, c := range cfg.Clients {
		ports := c.Ports
		if len(ports) == 0 {
			ports = []int{cfg.ListenPort}
		}
		addrs, err := resolveOne(ctx, c.Hostname, ports)
		if err != nil {
			return nil, fmt.Errorf("config: resolving %q: %w", c.Hostname, err)
		}
		out = append(out, registry.Config{
			Hostname: c.Hostname,
			Addrs:    addrs,
			Position: parsePosition(c.Position),
			HookCmd:  c.HookCmd,
		})
	}
	return out, nil
}

func resolveOne(ctx context.Context, hostname string, ports []int) ([]netip.AddrPort, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", hostname)
	if err != nil {
		return nil, err
	}
	var out []netip.AddrPort
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip.To16())
		if !ok {
			continue
		}
		addr = addr.Unmap()
		for _, port := range ports {
			out = append(out, netip.AddrPortFrom(addr, uint16(port)))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses found for %q", hostname)
	}
	return out, nil
}

func parsePosition(s string) proto.Position {
	switch s {
	case "right":
		return proto.Right
	case "top":
		return proto.Top
	case "bottom":
		return proto.Bottom
	default:
		return proto.Left
	}
}
