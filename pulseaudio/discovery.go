package pulseaudio

import (
	"context"
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// discoveryService is the mDNS service type published by servers running
// module-zeroconf-publish.
const discoveryService = "_pulse-server._tcp"

// Server describes a network-exported PulseAudio server found via mDNS.
// Addr is in the "tcp:host:port" form accepted by Options.Server.
type Server struct {
	Instance string
	Host     string
	Port     int
	Addr     string
}

// Discover browses for network-exported PulseAudio servers until ctx is
// done and returns every instance seen. Callers bound the scan with a
// context deadline.
func Discover(ctx context.Context) ([]Server, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("pulseaudio: discovery resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, discoveryService, "local.", entries); err != nil {
		return nil, fmt.Errorf("pulseaudio: discovery browse: %w", err)
	}

	var servers []Server
	for entry := range entries {
		server, ok := serverFromEntry(entry)
		if !ok {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"instance": server.Instance,
			"addr":     server.Addr,
		}).Debug("Discovered PulseAudio server")
		servers = append(servers, server)
	}
	return servers, nil
}

func serverFromEntry(entry *zeroconf.ServiceEntry) (Server, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return Server{}, false
	}
	host := entry.AddrIPv4[0].String()
	return Server{
		Instance: entry.Instance,
		Host:     host,
		Port:     entry.Port,
		Addr:     fmt.Sprintf("tcp:%s:%d", host, entry.Port),
	}, true
}
