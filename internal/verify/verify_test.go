package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/parishworks/hookgate/internal/config"
)

func newTestVerifier(secret string, clock clockwork.Clock) *Verifier {
	return New([]config.SourceConfig{
		{Tag: config.SourcePlanningCenter, Policy: config.PolicyDispatch},
		{Tag: config.SourceCloudflare, Policy: config.PolicyLogOnly, Secret: secret},
	}, clock)
}

// signBody computes Cloudflare Stream's sig1 value for a timestamp and body.
func signBody(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, body)
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureHeader(secret string, timestamp int64, body []byte) string {
	return fmt.Sprintf("time=%d,sig1=%s", timestamp, signBody(secret, timestamp, body))
}

func TestVerifyCloudflare_ValidSignature(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	v := newTestVerifier("s3cr3t", clock)
	body := []byte(`{"id":"abc"}`)

	res := v.Verify(config.SourceCloudflare, body, map[string]string{
		SignatureHeader: signatureHeader("s3cr3t", clock.Now().Unix(), body),
	})
	if !res.OK {
		t.Fatalf("expected OK, got reason %q", res.Reason)
	}
}

func TestVerifyCloudflare_SingleByteMutations(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	body := []byte(`{"id":"abc"}`)
	now := clock.Now().Unix()

	tests := []struct {
		name   string
		body   []byte
		secret string
		header string
	}{
		{
			name:   "tampered body",
			body:   []byte(`{"id":"abd"}`),
			secret: "s3cr3t",
			header: signatureHeader("s3cr3t", now, body),
		},
		{
			name:   "wrong secret",
			body:   body,
			secret: "s3cr3u",
			header: signatureHeader("s3cr3t", now, body),
		},
		{
			name:   "mutated signature hex",
			body:   body,
			secret: "s3cr3t",
			header: fmt.Sprintf("time=%d,sig1=%s", now, mutateHex(signBody("s3cr3t", now, body))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(tt.secret, clock)
			res := v.Verify(config.SourceCloudflare, tt.body, map[string]string{
				SignatureHeader: tt.header,
			})
			if res.OK {
				t.Fatal("expected rejection")
			}
			if res.Reason != "signature mismatch" {
				t.Errorf("reason = %q, want signature mismatch", res.Reason)
			}
		})
	}
}

// mutateHex flips the last hex digit of a signature.
func mutateHex(sig string) string {
	last := sig[len(sig)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	return sig[:len(sig)-1] + string(replacement)
}

func TestVerifyCloudflare_ReplayWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"id":"abc"}`)

	tests := []struct {
		name   string
		signed int64
		wantOK bool
	}{
		{"fresh", now.Unix(), true},
		{"exactly 300s old", now.Unix() - 300, true},
		{"301s old", now.Unix() - 301, false},
		{"exactly 300s in the future", now.Unix() + 300, true},
		{"301s in the future", now.Unix() + 301, false},
		{"an hour old", now.Add(-time.Hour).Unix(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier("s3cr3t", clockwork.NewFakeClockAt(now))
			res := v.Verify(config.SourceCloudflare, body, map[string]string{
				SignatureHeader: signatureHeader("s3cr3t", tt.signed, body),
			})
			if res.OK != tt.wantOK {
				t.Fatalf("OK = %v (reason %q), want %v", res.OK, res.Reason, tt.wantOK)
			}
			if !tt.wantOK && res.Reason != "timestamp outside replay window" {
				t.Errorf("reason = %q, want timestamp outside replay window", res.Reason)
			}
		})
	}
}

func TestVerifyCloudflare_HeaderFailures(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1700000000, 0))
	body := []byte(`{"id":"abc"}`)
	now := clock.Now().Unix()

	tests := []struct {
		name       string
		secret     string
		header     string
		wantReason string
	}{
		{
			name:       "missing header",
			secret:     "s3cr3t",
			header:     "",
			wantReason: "missing signature header",
		},
		{
			name:       "missing sig1 field",
			secret:     "s3cr3t",
			header:     fmt.Sprintf("time=%d", now),
			wantReason: "malformed signature header",
		},
		{
			name:       "missing time field",
			secret:     "s3cr3t",
			header:     "sig1=" + signBody("s3cr3t", now, body),
			wantReason: "malformed signature header",
		},
		{
			name:       "non-numeric time",
			secret:     "s3cr3t",
			header:     "time=yesterday,sig1=abc",
			wantReason: "malformed signature header",
		},
		{
			name:       "garbage header",
			secret:     "s3cr3t",
			header:     "not a signature",
			wantReason: "malformed signature header",
		},
		{
			name:       "secret not configured",
			secret:     "",
			header:     signatureHeader("s3cr3t", now, body),
			wantReason: "webhook secret not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier(tt.secret, clock)
			headers := map[string]string{}
			if tt.header != "" {
				headers[SignatureHeader] = tt.header
			}
			res := v.Verify(config.SourceCloudflare, body, headers)
			if res.OK {
				t.Fatal("expected rejection")
			}
			if res.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.wantReason)
			}
		})
	}
}

func TestVerifyPlanningCenter(t *testing.T) {
	v := newTestVerifier("unused", clockwork.NewFakeClockAt(time.Unix(1700000000, 0)))
	marker := map[string]string{MarkerHeader: "c0ffee"}

	tests := []struct {
		name    string
		body    []byte
		headers map[string]string
		wantOK  bool
	}{
		{"data key with marker", []byte(`{"data":{"id":"1"}}`), marker, true},
		{"type key with marker", []byte(`{"type":"event.created"}`), marker, true},
		{"id key with marker", []byte(`{"id":"42"}`), marker, true},
		{"missing marker header", []byte(`{"data":{}}`), map[string]string{}, false},
		{"marker but no expected keys", []byte(`{"foo":"bar"}`), marker, false},
		{"marker but body not JSON", []byte(`not json`), marker, false},
		{"marker but body is array", []byte(`[1,2,3]`), marker, false},
		{"neither marker nor keys", []byte(`{"foo":"bar"}`), map[string]string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Verify(config.SourcePlanningCenter, tt.body, tt.headers)
			if res.OK != tt.wantOK {
				t.Fatalf("OK = %v (reason %q), want %v", res.OK, res.Reason, tt.wantOK)
			}
		})
	}
}

func TestVerifyUnrecognizedSource(t *testing.T) {
	v := newTestVerifier("s3cr3t", clockwork.NewFakeClockAt(time.Unix(1700000000, 0)))
	res := v.Verify("facebook", []byte(`{}`), map[string]string{})
	if res.OK {
		t.Fatal("expected rejection for unrecognized source")
	}
}

func TestSecureCompare(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"equal", "abcdef", "abcdef", true},
		{"differ in first byte", "abcdef", "xbcdef", false},
		{"differ in last byte", "abcdef", "abcdex", false},
		{"length mismatch", "abc", "abcd", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := secureCompare([]byte(tt.a), []byte(tt.b)); got != tt.want {
				t.Errorf("secureCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
