package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"

	"github.com/relaywire/smtpclient/internal/smtplog"
)

// SecurityKind discriminates a ServerConfig's transport security mode.
type SecurityKind int

const (
	SecurityPlain SecurityKind = iota
	SecurityTLS
)

// Security is the tagged `plain | tls{config?, sni?}` variant from spec.md
// §4.5. TLSConfig and SNI are only consulted when Kind is SecurityTLS.
type Security struct {
	Kind SecurityKind
	// TLSConfig, if nil, defaults to the host's usual certificate
	// validation policy (an empty *tls.Config{ServerName: ...}).
	TLSConfig *tls.Config
	// SNI overrides the server name presented during the TLS handshake;
	// defaults to the dial host when empty.
	SNI string
}

// Plain is the plain-TCP Security value.
func Plain() Security { return Security{Kind: SecurityPlain} }

// TLS is the TLS Security value. cfg may be nil to take the default policy.
func TLS(cfg *tls.Config, sni string) Security {
	return Security{Kind: SecurityTLS, TLSConfig: cfg, SNI: sni}
}

// ServerConfig names the remote SMTP server to dial.
type ServerConfig struct {
	Host    string        `json:"Host"`
	Port    int           `json:"Port"`
	Timeout time.Duration `json:"Timeout"`
}

// Config is the full configuration accepted by Connect, grounded on the
// JSON-tagged config structs threaded through launcher.Config in the
// teacher repo.
type Config struct {
	Security Security     `json:"-"`
	Server   ServerConfig `json:"Server"`

	// Resolve, when true, has the transport binding look up an MX (falling
	// back to A; AAAA is never queried) record for Server.Host before dialing, rather than
	// dialing Server.Host directly. Most callers leave this false and pass
	// an address they already resolved themselves.
	Resolve bool

	// Logger receives dial/TLS/resolution diagnostics. A nil Logger is
	// replaced with a default Logger named "smtp" that writes through the
	// standard log package.
	Logger *smtplog.Logger
	// Metrics receives connection-driver counters. A nil Metrics simply
	// does nothing.
	Metrics *Metrics
}

// withDefaults fills in spec.md §6's defaults: host=127.0.0.1, port=25,
// timeout=10s.
func (c Config) withDefaults() Config {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 25
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = &smtplog.Logger{ComponentName: "smtp"}
	}
	return c
}

// resolveHost turns a bare hostname into a connectable IP address by
// looking up its MX records first (taking the A record of the most preferred
// exchange), falling back to the host's own A record. AAAA records are never
// queried, so a host with only IPv6 addresses is returned unchanged. If host is already a
// literal IP, or lookup yields nothing usable, host is returned unchanged —
// net.Dial/net.DialTimeout will attempt to resolve it the ordinary way.
//
// Grounded on daemon/dnsd/dnsclient/client.go's use of *dns.ClientConfig and
// the miekg/dns client API for outbound lookups.
func resolveHost(ctx context.Context, host string, logger *smtplog.Logger) string {
	if net.ParseIP(host) != nil {
		return host
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return host
	}
	client := new(dns.Client)
	server := net.JoinHostPort(conf.Servers[0], conf.Port)

	mx := new(dns.Msg)
	mx.SetQuestion(dns.Fqdn(host), dns.TypeMX)
	if resp, _, err := client.ExchangeContext(ctx, mx, server); err == nil {
		if target := bestMXTarget(resp); target != "" {
			if addr := lookupA(ctx, client, server, target); addr != "" {
				return addr
			}
		}
	}

	a := new(dns.Msg)
	a.SetQuestion(dns.Fqdn(host), dns.TypeA)
	resp, _, err := client.ExchangeContext(ctx, a, server)
	if err != nil {
		logger.MaybeMinorError("resolveHost", err)
		return host
	}
	if addr := firstARecord(resp); addr != "" {
		return addr
	}
	return host
}

func bestMXTarget(resp *dns.Msg) string {
	var best *dns.MX
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			if best == nil || mx.Preference < best.Preference {
				best = mx
			}
		}
	}
	if best == nil {
		return ""
	}
	return best.Mx
}

func lookupA(ctx context.Context, client *dns.Client, server, name string) string {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return ""
	}
	return firstARecord(resp)
}

func firstARecord(resp *dns.Msg) string {
	var addrs []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			addrs = append(addrs, a.A.String())
		}
	}
	sort.Strings(addrs)
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0]
}

// dial bootstraps the TCP (or TLS-tunneled) byte stream per spec.md §4.5's
// transport contract: connect(host, port, timeout, security) → bidirectional
// byte stream. Grounded on inet/mail_client.go's dialMTA (TLS-then-fallback
// net.DialTimeout shape), simplified since our Security is an explicit
// caller choice rather than a TLS probe-and-fallback.
func dial(ctx context.Context, cfg Config) (net.Conn, error) {
	host := cfg.Server.Host
	if cfg.Resolve {
		host = resolveHost(ctx, host, cfg.Logger)
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Server.Port))

	dialer := &net.Dialer{Timeout: cfg.Server.Timeout, Control: setSocketOptions}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		cfg.Logger.Warning("dial", addr, err, "failed to connect")
		return nil, err
	}

	if cfg.Security.Kind == SecurityPlain {
		return conn, nil
	}

	sni := cfg.Security.SNI
	if sni == "" {
		sni = cfg.Server.Host
	}
	tlsConfig := cfg.Security.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.ServerName = sni
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		cfg.Logger.Warning("dial", addr, err, "TLS handshake failed")
		return nil, err
	}
	return tlsConn, nil
}
