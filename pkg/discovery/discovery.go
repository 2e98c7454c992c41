// Package discovery announces relays on the local network and finds them.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// mDNS service coordinates
const (
	Service = "_goflash._tcp"
	Domain  = "local."
)

// Relay is a relay found on the network
type Relay struct {
	Name    string
	Host    string
	Port    int
	Version string
	Secure  bool
}

// Address is the relay address a profile would use
func (r Relay) Address() string {
	hostPort := net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	if r.Secure {
		return "https://" + hostPort
	}
	return hostPort
}

// Announcement keeps a relay registered until Shutdown
type Announcement struct {
	server *zeroconf.Server
}

// Announce registers a relay instance on every interface
func Announce(name string, port int, version string, secure bool) (*Announcement, error) {
	txt := []string{"version=" + version}
	if secure {
		txt = append(txt, "secure=1")
	}
	server, err := zeroconf.Register(name, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("announce relay: %w", err)
	}
	log.Info().Str("name", name).Int("port", port).Msg("Relay announced on the local network")
	return &Announcement{server: server}, nil
}

// Shutdown withdraws the announcement
func (a *Announcement) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse collects relays until ctx is done and returns them sorted by name
func Browse(ctx context.Context) ([]Relay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize resolver: %w", err)
	}

	var (
		mu     sync.Mutex
		found  = make(map[string]Relay)
		done   = make(chan struct{})
		events = make(chan *zeroconf.ServiceEntry)
	)
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-events:
				if !ok {
					return
				}
				relay, ok := fromEntry(entry)
				if !ok {
					continue
				}
				mu.Lock()
				if _, exists := found[relay.Name]; !exists {
					log.Debug().Str("name", relay.Name).Str("addr", relay.Address()).Msg("Discovered relay")
				}
				found[relay.Name] = relay
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, events); err != nil {
		return nil, fmt.Errorf("failed to browse for relays: %w", err)
	}
	<-ctx.Done()
	<-done

	mu.Lock()
	defer mu.Unlock()
	relays := make([]Relay, 0, len(found))
	for _, r := range found {
		relays = append(relays, r)
	}
	sort.Slice(relays, func(i, j int) bool { return relays[i].Name < relays[j].Name })
	return relays, nil
}

// fromEntry converts a resolved service entry, preferring IPv4
func fromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil {
		return Relay{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Relay{}, false
	}

	r := Relay{Name: entry.Instance, Host: host, Port: entry.Port}
	for _, kv := range entry.Text {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case "version":
			r.Version = value
		case "secure":
			r.Secure = value == "1"
		}
	}
	return r, true
}
