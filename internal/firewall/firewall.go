// Package firewall decides, for every inbound request, whether it is
// forwarded to the origin or rejected.
//
// Inspection runs a fixed sequence of stages and the first stage that
// rejects wins:
//
//  1. rate limit (when a limiter is configured)   -> 429
//  2. sensitive file on the path                  -> 404
//  3. path traversal on the path                  -> 403
//  4. SQL injection, XSS, command injection in
//     the query string                            -> 403
//
// Paths matching the optional bypass pattern skip every stage.
package firewall

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/kappakonnect/edgeguard/internal/audit"
	"github.com/kappakonnect/edgeguard/internal/clientip"
	"github.com/kappakonnect/edgeguard/internal/ratelimit"
	"github.com/kappakonnect/edgeguard/internal/threat"
)

// Verdict is the outcome of Inspect.
type Verdict int

const (
	Allow Verdict = iota
	RejectNotFound
	RejectForbidden
	RejectRateLimited
)

func (v Verdict) String() string {
	switch v {
	case RejectNotFound:
		return audit.VerdictRejectNotFound
	case RejectForbidden:
		return audit.VerdictRejectForbidden
	case RejectRateLimited:
		return audit.VerdictRejectRateLimited
	default:
		return audit.VerdictAllow
	}
}

// Status is the HTTP status a rejection is answered with. Allow returns 0:
// the origin decides.
func (v Verdict) Status() int {
	switch v {
	case RejectNotFound:
		return http.StatusNotFound
	case RejectForbidden:
		return http.StatusForbidden
	case RejectRateLimited:
		return http.StatusTooManyRequests
	default:
		return 0
	}
}

// ThreatRateLimit labels rate-limited rejections.
const ThreatRateLimit = "rate_limit"

// Rejection messages.
const (
	MessagePathTraversal = "Path traversal attempt detected and blocked."
	MessageMalicious     = "Malicious request detected and blocked."
	MessageRateLimited   = "Rate limit exceeded. Too many requests from this IP."
)

// Request is the part of an HTTP request the firewall looks at.
type Request struct {
	Method   string
	Path     string // escaped form, as received
	RawQuery string
	Header   http.Header
}

// Result is the firewall's decision for one request.
type Result struct {
	Verdict    Verdict
	Threat     string
	Message    string
	ClientKey  string
	RetryAfter time.Duration
	Bypassed   bool
}

// queryCategories is checked in order; the first match labels the rejection.
var queryCategories = []threat.Category{
	threat.SQLInjection,
	threat.XSS,
	threat.CommandInjection,
}

// Config wires the firewall's collaborators. Every field is optional.
type Config struct {
	// Rules supplies the pattern groups. Defaults to threat.DefaultSet().
	Rules *threat.Set
	// Matchers overrides individual categories, e.g. with a non-regex
	// implementation.
	Matchers map[threat.Category]threat.Matcher
	// Limiter enables the rate stage.
	Limiter *ratelimit.Limiter
	// Bypass lists paths forwarded without inspection.
	Bypass *regexp.Regexp
	// OnStoreError is called when the rate store fails.
	OnStoreError func(error)
}

// Firewall is safe for concurrent use.
type Firewall struct {
	matchers     map[threat.Category]threat.Matcher
	limiter      *ratelimit.Limiter
	bypass       *regexp.Regexp
	onStoreError func(error)
}

func New(cfg Config) *Firewall {
	rules := cfg.Rules
	if rules == nil {
		rules = threat.DefaultSet()
	}
	matchers := make(map[threat.Category]threat.Matcher, len(threat.Categories))
	for _, c := range threat.Categories {
		if g := rules.Group(c); g != nil {
			matchers[c] = g
		}
	}
	for c, m := range cfg.Matchers {
		matchers[c] = m
	}
	return &Firewall{
		matchers:     matchers,
		limiter:      cfg.Limiter,
		bypass:       cfg.Bypass,
		onStoreError: cfg.OnStoreError,
	}
}

// Inspect runs the stages against req.
func (f *Firewall) Inspect(ctx context.Context, req Request) Result {
	key := clientip.ResolveKey(req.Header)

	if f.bypass != nil && f.bypass.MatchString(req.Path) {
		return Result{Verdict: Allow, Threat: audit.ThreatNone, ClientKey: key, Bypassed: true}
	}

	if f.limiter != nil {
		d := f.limiter.CheckAndConsume(ctx, key)
		if d.Err != nil && f.onStoreError != nil {
			f.onStoreError(d.Err)
		}
		if !d.Allowed {
			return Result{
				Verdict:    RejectRateLimited,
				Threat:     ThreatRateLimit,
				Message:    MessageRateLimited,
				ClientKey:  key,
				RetryAfter: f.limiter.Window(),
			}
		}
	}

	if f.match(threat.SensitiveFile, req.Path) {
		return Result{Verdict: RejectNotFound, Threat: string(threat.SensitiveFile), ClientKey: key}
	}

	if f.match(threat.PathTraversal, req.Path) {
		return Result{
			Verdict:   RejectForbidden,
			Threat:    string(threat.PathTraversal),
			Message:   MessagePathTraversal,
			ClientKey: key,
		}
	}

	if req.RawQuery != "" {
		decoded := threat.DecodeQuery(req.RawQuery)
		for _, c := range queryCategories {
			if f.match(c, req.RawQuery) || (decoded != req.RawQuery && f.match(c, decoded)) {
				return Result{
					Verdict:   RejectForbidden,
					Threat:    string(c),
					Message:   MessageMalicious,
					ClientKey: key,
				}
			}
		}
	}

	return Result{Verdict: Allow, Threat: audit.ThreatNone, ClientKey: key}
}

func (f *Firewall) match(c threat.Category, value string) bool {
	return threat.Matches(value, f.matchers[c])
}
