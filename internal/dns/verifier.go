package dns

import (
	"context"

	"go.uber.org/zap"
)

// Result is the outcome of a TXT verification check. It is one of Verified,
// NotFound or Misconfigured.
type Result interface {
	isResult()
}

// Verified means a published TXT record matches the expected value.
type Verified struct{}

// NotFound means no TXT records could be read at the queried name. Lookup
// failures are reported the same way.
type NotFound struct{}

// Misconfigured means TXT records exist but none match.
type Misconfigured struct {
	// Found holds the normalized attribute=value form of every record that
	// parsed, for showing the user what is actually published.
	Found []string
}

func (Verified) isResult()      {}
func (NotFound) isResult()      {}
func (Misconfigured) isResult() {}

// txtLookup is the DNS collaborator required by Verifier.
// *TXTLookup satisfies this interface.
type txtLookup interface {
	LookupTXT(ctx context.Context, host string) []string
}

// Verifier compares published TXT records against an expected RFC 1464 value.
type Verifier struct {
	lookup txtLookup
	logger *zap.Logger
}

// NewVerifier creates a Verifier backed by lookup.
func NewVerifier(lookup txtLookup, logger *zap.Logger) *Verifier {
	return &Verifier{lookup: lookup, logger: logger}
}

// CheckDomainVerification looks up the TXT records at recordName and reports
// whether any of them matches expectedValue. It never fails: unexpected
// problems are logged and reported as NotFound.
func (v *Verifier) CheckDomainVerification(ctx context.Context, recordName, expectedValue string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("TXT verification aborted",
				zap.String("record_name", recordName),
				zap.Any("panic", r),
			)
			res = NotFound{}
		}
	}()

	raw := v.lookup.LookupTXT(ctx, recordName)

	want, ok := ParseRecord(expectedValue)
	if !ok {
		v.logger.Error("expected TXT value is not an attribute=value record",
			zap.String("record_name", recordName),
			zap.String("expected", expectedValue),
		)
		return NotFound{}
	}
	want = want.Normalize()

	if len(raw) == 0 {
		return NotFound{}
	}

	found := make([]string, 0, len(raw))
	for _, txt := range raw {
		rec, ok := ParseRecord(txt)
		if !ok {
			continue
		}
		rec = rec.Normalize()
		if rec == want {
			return Verified{}
		}
		found = append(found, rec.String())
	}

	v.logger.Debug("TXT records present but none match",
		zap.String("record_name", recordName),
		zap.Strings("found", found),
	)
	return Misconfigured{Found: found}
}
