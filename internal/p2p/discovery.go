package p2p

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultP2PPort is the port DNS-resolved seeds are assumed to listen
// on, per spec.md §4.5.
const DefaultP2PPort = 9000

// DiscoveryConfig names the inputs to the discovery waterfall. HTTP
// bootstrap URLs (spec.md §4.5 step 5) are explicitly out of scope:
// spec.md §1 excludes "HTTP-bootstrap URL parsing" from the core, so
// that strategy is never attempted here.
type DiscoveryConfig struct {
	DNSSeeds      []string // hostnames resolved at DefaultP2PPort
	HardcodedSeeds []string
	EnvSeeds      []string
}

// Discover runs the waterfall of spec.md §4.5 in order — cached
// peers, DNS seeds, hardcoded seeds, environment-provided seeds —
// stopping as soon as at least 3 peers have been found.
func Discover(store *PeerStore, cfg DiscoveryConfig) []string {
	const minFound = 3

	if cached := cachedCandidates(store); len(cached) >= minFound {
		return cached
	} else if len(cached) > 0 {
		if combined := append(append([]string{}, cached...), discoverRest(cfg, minFound-len(cached))...); len(combined) > 0 {
			return dedupeStrings(combined)
		}
	}
	return dedupeStrings(discoverRest(cfg, minFound))
}

func discoverRest(cfg DiscoveryConfig, need int) []string {
	var found []string
	if resolved := resolveDNSSeeds(cfg.DNSSeeds); len(resolved) > 0 {
		found = append(found, resolved...)
	}
	if len(found) < need {
		found = append(found, cfg.HardcodedSeeds...)
	}
	if len(found) < need {
		found = append(found, cfg.EnvSeeds...)
	}
	return found
}

// cachedCandidates returns recently-seen peers (within 7 days) with
// fewer than 5 failures, per spec.md §4.5 step 1.
func cachedCandidates(store *PeerStore) []string {
	if store == nil {
		return nil
	}
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	var out []string
	for _, p := range store.Snapshot() {
		if p.Failures >= 5 {
			continue
		}
		if p.LastSeen == nil || p.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, p.Addr)
	}
	return out
}

// resolveDNSSeeds resolves each hostname to A records and appends
// DefaultP2PPort, using a plain recursive DNS query (miekg/dns) rather
// than the stdlib resolver, matching the teacher's use of
// github.com/miekg/dns elsewhere in the dependency pack.
func resolveDNSSeeds(seeds []string) []string {
	var out []string
	c := new(dns.Client)
	c.Timeout = 3 * time.Second
	for _, seed := range seeds {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(seed), dns.TypeA)
		resolverAddr := systemResolverAddr()
		resp, _, err := c.Exchange(m, resolverAddr)
		if err != nil || resp == nil {
			continue
		}
		for _, ans := range resp.Answer {
			if a, ok := ans.(*dns.A); ok {
				out = append(out, fmt.Sprintf("%s:%d", a.A.String(), DefaultP2PPort))
			}
		}
	}
	return out
}

func systemResolverAddr() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return "8.8.8.8:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// IsValidPeerAddress validates "IP:PORT" or ".onion:PORT", per
// spec.md §4.5's PEX ingestion rule.
func IsValidPeerAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if strings.HasSuffix(host, ".onion") {
		return len(host) > len(".onion")
	}
	return net.ParseIP(host) != nil
}
