package service

import "time"

// Defaults for the verification policy.
const (
	DefaultDNSRecordPrefix = "_airbyte-verification"
	DefaultTXTValuePrefix  = "airbyte-domain-verification="
	DefaultValidityWindow  = 14 * 24 * time.Hour
)

// Policy controls how verification records are generated. Changing it only
// affects records created afterwards: DNSRecordName is frozen at creation.
type Policy struct {
	DNSRecordPrefix string
	TXTValuePrefix  string
	ValidityWindow  time.Duration
}

// DefaultPolicy returns the reference verification policy.
func DefaultPolicy() Policy {
	return Policy{
		DNSRecordPrefix: DefaultDNSRecordPrefix,
		TXTValuePrefix:  DefaultTXTValuePrefix,
		ValidityWindow:  DefaultValidityWindow,
	}
}

// ExpectedValue returns the TXT record value the domain owner must publish.
func (p Policy) ExpectedValue(token string) string {
	return p.TXTValuePrefix + token
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.DNSRecordPrefix == "" {
		p.DNSRecordPrefix = d.DNSRecordPrefix
	}
	if p.TXTValuePrefix == "" {
		p.TXTValuePrefix = d.TXTValuePrefix
	}
	if p.ValidityWindow <= 0 {
		p.ValidityWindow = d.ValidityWindow
	}
	return p
}
