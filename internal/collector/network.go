package collector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	gonet "github.com/shirou/gopsutil/v4/net"
)

const defaultConnectionKind = "inet"

// NetworkCollector samples socket connections of the host.
// Params: kind selects the gopsutil connection family (inet, inet4, inet6, tcp, udp, all).
// Returns: network collector instance.
type NetworkCollector struct {
	kind        string
	connections func(context.Context, string) ([]gonet.ConnectionStat, error)
}

// NewNetworkCollector creates a network collector backed by gopsutil.
// Params: kind connection family; empty selects "inet".
// Returns: configured network collector.
func NewNetworkCollector(kind string) *NetworkCollector {
	if kind == "" {
		kind = defaultConnectionKind
	}
	return &NetworkCollector{
		kind:        kind,
		connections: gonet.ConnectionsWithContext,
	}
}

// Name returns the collector identity.
// Params: none.
// Returns: collector name string.
func (c *NetworkCollector) Name() string {
	return "NetworkCollector"
}

// Collect reads one record per socket connection.
// Params: ctx for cancellation.
// Returns: connection records, or ErrSourceUnavailable when the socket table cannot be read.
func (c *NetworkCollector) Collect(ctx context.Context) ([]Record, error) {
	stats, err := c.connections(ctx, c.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s connections: %w", ErrSourceUnavailable, c.kind, err)
	}

	records := make([]Record, 0, len(stats))
	for _, stat := range stats {
		record, ok := connectionRecord(stat)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// connectionRecord normalizes one gopsutil connection.
// Params: stat raw connection entry.
// Returns: record and false when the local endpoint is unreadable.
func connectionRecord(stat gonet.ConnectionStat) (Record, bool) {
	if stat.Laddr.IP == "" {
		return nil, false
	}

	return Record{
		"local_addr":  formatAddr(stat.Laddr),
		"remote_addr": formatAddr(stat.Raddr),
		"status":      stat.Status,
		"pid":         stat.Pid,
		"family":      familyName(stat.Family),
		"type":        socketTypeName(stat.Type),
	}, true
}

// formatAddr renders host:port, bracketing IPv6 hosts.
// Params: addr gopsutil endpoint.
// Returns: joined address or empty string for an unset endpoint.
func formatAddr(addr gonet.Addr) string {
	if addr.IP == "" {
		return ""
	}
	return net.JoinHostPort(addr.IP, strconv.FormatUint(uint64(addr.Port), 10))
}

func familyName(family uint32) string {
	switch family {
	case syscall.AF_INET:
		return "ipv4"
	case syscall.AF_INET6:
		return "ipv6"
	case syscall.AF_UNIX:
		return "unix"
	default:
		return strconv.FormatUint(uint64(family), 10)
	}
}

func socketTypeName(socketType uint32) string {
	switch socketType {
	case syscall.SOCK_STREAM:
		return "tcp"
	case syscall.SOCK_DGRAM:
		return "udp"
	default:
		return strconv.FormatUint(uint64(socketType), 10)
	}
}
