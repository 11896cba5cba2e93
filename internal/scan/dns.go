package scan

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const ptrTimeout = 2 * time.Second

// resolvePTR asks the system resolver for the PTR record of ip. A
// direct query keeps the timeout under our control; if no resolver
// config is readable we fall back to the stdlib resolver.
func resolvePTR(ctx context.Context, ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return lookupAddrFallback(ctx, ip)
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	c := &dns.Client{Timeout: ptrTimeout}
	for _, server := range conf.Servers {
		in, _, err := c.ExchangeContext(ctx, m, net.JoinHostPort(server, conf.Port))
		if err != nil || in == nil {
			continue
		}
		for _, rr := range in.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, ".")
			}
		}
		// Resolver answered but had no PTR record.
		return ""
	}
	return lookupAddrFallback(ctx, ip)
}

func lookupAddrFallback(ctx context.Context, ip string) string {
	ctx, cancel := context.WithTimeout(ctx, ptrTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
