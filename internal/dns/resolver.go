package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// ErrNoRecords is returned by resolvers when the name does not exist or has no
// TXT records.
var ErrNoRecords = errors.New("no TXT records")

// Resolver performs raw TXT lookups. *net.Resolver satisfies this interface.
type Resolver interface {
	LookupTXT(ctx context.Context, host string) ([]string, error)
}

// LookupConfig bounds a single TXT lookup.
type LookupConfig struct {
	// Timeout applies to each attempt, not to the lookup as a whole.
	Timeout time.Duration
	// Retries is the number of extra attempts after a failed one.
	Retries int
}

// DefaultLookupConfig returns a 5 second timeout with one retry.
func DefaultLookupConfig() LookupConfig {
	return LookupConfig{Timeout: 5 * time.Second, Retries: 1}
}

// TXTLookup fetches TXT records for the verifier. It never reports an error:
// NXDOMAIN, timeouts and resolver failures all come back as no records.
type TXTLookup struct {
	resolver Resolver
	cfg      LookupConfig
	logger   *zap.Logger
}

// NewTXTLookup wraps resolver with the timeout and retry budget in cfg.
// Pass nil for resolver to use the system resolver.
func NewTXTLookup(resolver Resolver, cfg LookupConfig, logger *zap.Logger) *TXTLookup {
	if resolver == nil {
		resolver = &net.Resolver{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLookupConfig().Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &TXTLookup{resolver: resolver, cfg: cfg, logger: logger}
}

// LookupTXT returns the raw TXT strings published at host, or nil.
func (l *TXTLookup) LookupTXT(ctx context.Context, host string) []string {
	for attempt := 0; attempt <= l.cfg.Retries; attempt++ {
		records, err := l.lookupOnce(ctx, host)
		if err == nil {
			return records
		}
		if isNotFound(err) {
			return nil
		}
		l.logger.Debug("TXT lookup failed",
			zap.String("host", host),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}
	l.logger.Warn("TXT lookup gave up; treating as no records", zap.String("host", host))
	return nil
}

func (l *TXTLookup) lookupOnce(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	return l.resolver.LookupTXT(ctx, host)
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrNoRecords) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// MiekgResolver queries nameservers directly instead of going through the
// system stub resolver, so answers are not subject to local caching.
type MiekgResolver struct {
	udp         *dns.Client
	tcp         *dns.Client
	nameservers []string
}

// NewMiekgResolver creates a resolver for the given nameservers ("host" or
// "host:port"). When none are given, the servers in /etc/resolv.conf are used.
func NewMiekgResolver(nameservers []string) (*MiekgResolver, error) {
	if len(nameservers) == 0 {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("read resolv.conf: %w", err)
		}
		for _, s := range cfg.Servers {
			nameservers = append(nameservers, net.JoinHostPort(s, cfg.Port))
		}
	}

	servers := make([]string, 0, len(nameservers))
	for _, s := range nameservers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return nil, errors.New("no nameservers configured")
	}

	return &MiekgResolver{
		udp:         &dns.Client{Net: "udp"},
		tcp:         &dns.Client{Net: "tcp"},
		nameservers: servers,
	}, nil
}

// LookupTXT asks each nameserver in turn until one gives a definitive answer.
// The character-strings of each TXT record are concatenated.
func (r *MiekgResolver) LookupTXT(ctx context.Context, host string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.nameservers {
		in, _, err := r.udp.ExchangeContext(ctx, m, server)
		if err == nil && in.Truncated {
			in, _, err = r.tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = err
			continue
		}

		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, ErrNoRecords
		default:
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[in.Rcode])
			continue
		}

		var records []string
		for _, rr := range in.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				records = append(records, strings.Join(txt.Txt, ""))
			}
		}
		if len(records) == 0 {
			return nil, ErrNoRecords
		}
		return records, nil
	}
	return nil, fmt.Errorf("lookup TXT %s: %w", host, lastErr)
}
