package dns_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	miekg "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/domainverify/internal/dns"
)

type scriptedResolver struct {
	calls   atomic.Int32
	errs    []error
	records []string
	delay   time.Duration
}

func (r *scriptedResolver) LookupTXT(ctx context.Context, _ string) ([]string, error) {
	n := int(r.calls.Add(1)) - 1
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n < len(r.errs) && r.errs[n] != nil {
		return nil, r.errs[n]
	}
	return r.records, nil
}

func TestTXTLookup_returnsRecords(t *testing.T) {
	res := &scriptedResolver{records: []string{"a=b"}}
	l := dns.NewTXTLookup(res, dns.DefaultLookupConfig(), zap.NewNop())

	assert.Equal(t, []string{"a=b"}, l.LookupTXT(context.Background(), "host"))
	assert.EqualValues(t, 1, res.calls.Load())
}

func TestTXTLookup_retriesOnce(t *testing.T) {
	res := &scriptedResolver{
		errs:    []error{errors.New("i/o timeout")},
		records: []string{"a=b"},
	}
	l := dns.NewTXTLookup(res, dns.LookupConfig{Timeout: time.Second, Retries: 1}, zap.NewNop())

	assert.Equal(t, []string{"a=b"}, l.LookupTXT(context.Background(), "host"))
	assert.EqualValues(t, 2, res.calls.Load())
}

func TestTXTLookup_givesUpAfterRetryBudget(t *testing.T) {
	fail := errors.New("servfail")
	res := &scriptedResolver{errs: []error{fail, fail, fail}}
	l := dns.NewTXTLookup(res, dns.LookupConfig{Timeout: time.Second, Retries: 1}, zap.NewNop())

	assert.Nil(t, l.LookupTXT(context.Background(), "host"))
	assert.EqualValues(t, 2, res.calls.Load())
}

func TestTXTLookup_notFoundIsNotRetried(t *testing.T) {
	res := &scriptedResolver{errs: []error{&net.DNSError{Err: "no such host", Name: "host", IsNotFound: true}}}
	l := dns.NewTXTLookup(res, dns.LookupConfig{Timeout: time.Second, Retries: 3}, zap.NewNop())

	assert.Nil(t, l.LookupTXT(context.Background(), "host"))
	assert.EqualValues(t, 1, res.calls.Load())
}

func TestTXTLookup_timeoutIsNoRecords(t *testing.T) {
	res := &scriptedResolver{delay: time.Second, records: []string{"a=b"}}
	l := dns.NewTXTLookup(res, dns.LookupConfig{Timeout: 20 * time.Millisecond, Retries: 1}, zap.NewNop())

	assert.Nil(t, l.LookupTXT(context.Background(), "host"))
	assert.EqualValues(t, 2, res.calls.Load())
}

// startDNSServer serves TXT answers for the given names on a loopback UDP port
// and NXDOMAIN for everything else.
func startDNSServer(t *testing.T, zone map[string][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := miekg.HandlerFunc(func(w miekg.ResponseWriter, r *miekg.Msg) {
		m := new(miekg.Msg)
		m.SetReply(r)
		q := r.Question[0]
		txts, ok := zone[q.Name]
		if !ok {
			m.SetRcode(r, miekg.RcodeNameError)
		}
		for _, txt := range txts {
			m.Answer = append(m.Answer, &miekg.TXT{
				Hdr: miekg.RR_Header{Name: q.Name, Rrtype: miekg.TypeTXT, Class: miekg.ClassINET, Ttl: 60},
				Txt: []string{txt[:len(txt)/2], txt[len(txt)/2:]},
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &miekg.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestMiekgResolver_LookupTXT(t *testing.T) {
	addr := startDNSServer(t, map[string][]string{
		"_airbyte-verification.acme.io.": {"airbyte-domain-verification=tok123", "v=spf1 -all"},
	})

	r, err := dns.NewMiekgResolver([]string{addr})
	require.NoError(t, err)

	records, err := r.LookupTXT(context.Background(), "_airbyte-verification.acme.io")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"airbyte-domain-verification=tok123", "v=spf1 -all"}, records)
}

func TestMiekgResolver_nxdomain(t *testing.T) {
	addr := startDNSServer(t, map[string][]string{})

	r, err := dns.NewMiekgResolver([]string{addr})
	require.NoError(t, err)

	_, err = r.LookupTXT(context.Background(), "missing.acme.io")
	assert.ErrorIs(t, err, dns.ErrNoRecords)
}

func TestMiekgResolver_endToEndWithVerifier(t *testing.T) {
	addr := startDNSServer(t, map[string][]string{
		"_airbyte-verification.acme.io.": {"airbyte-domain-verification=tok123"},
	})

	r, err := dns.NewMiekgResolver([]string{addr})
	require.NoError(t, err)

	v := dns.NewVerifier(dns.NewTXTLookup(r, dns.DefaultLookupConfig(), zap.NewNop()), zap.NewNop())
	res := v.CheckDomainVerification(context.Background(), "_airbyte-verification.acme.io", "airbyte-domain-verification=tok123")
	assert.Equal(t, dns.Verified{}, res)

	res = v.CheckDomainVerification(context.Background(), "_airbyte-verification.other.io", "airbyte-domain-verification=tok123")
	assert.Equal(t, dns.NotFound{}, res)
}
