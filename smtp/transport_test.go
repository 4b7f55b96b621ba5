package smtp

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestBestMXTargetPicksLowestPreference(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{
		&dns.MX{Preference: 20, Mx: "mx2.example.com."},
		&dns.MX{Preference: 10, Mx: "mx1.example.com."},
	}
	require.Equal(t, "mx1.example.com.", bestMXTarget(resp))
}

func TestBestMXTargetEmptyAnswer(t *testing.T) {
	require.Equal(t, "", bestMXTarget(new(dns.Msg)))
}

func TestFirstARecordIsDeterministic(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{
		&dns.A{A: net.ParseIP("203.0.113.9")},
		&dns.A{A: net.ParseIP("203.0.113.2")},
	}
	require.Equal(t, "203.0.113.2", firstARecord(resp))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 25, cfg.Server.Port)
	require.NotNil(t, cfg.Logger)
}
