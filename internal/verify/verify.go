// Package verify resolves an anchor hash to a certificate a third party can
// trust: hash -> ledger locator -> content -> integrity checks -> display.
//
// Every failure is reported as a distinct Outcome so callers can tell an
// unknown certificate from a forged one or from an outage. The resolver
// never retries; verified results are cached because anchored records are
// immutable.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmerrifield20/examcert/internal/certificate"
	"github.com/jmerrifield20/examcert/internal/contentstore"
	"github.com/jmerrifield20/examcert/internal/ledger"
	"go.uber.org/zap"
)

// Outcome classifies a verification.
type Outcome int

const (
	Verified Outcome = iota
	NotAnchored
	ContentUnavailable
	IntegrityMismatch
	TransportError
	InvalidHash
)

var outcomeNames = map[Outcome]string{
	Verified:           "verified",
	NotAnchored:        "not_anchored",
	ContentUnavailable: "content_unavailable",
	IntegrityMismatch:  "integrity_mismatch",
	TransportError:     "transport_error",
	InvalidHash:        "invalid_hash",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText parses an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	for k, v := range outcomeNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", string(b))
}

// HTTPStatus maps an outcome to the status code the verification endpoints
// answer with.
func (o Outcome) HTTPStatus() int {
	switch o {
	case Verified:
		return http.StatusOK
	case InvalidHash:
		return http.StatusBadRequest
	case NotAnchored:
		return http.StatusNotFound
	case IntegrityMismatch:
		return http.StatusUnprocessableEntity
	case ContentUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusServiceUnavailable
	}
}

// Result is the outcome of one verification. Certificate is set only when
// Outcome is Verified; Err is set for every other outcome.
type Result struct {
	Outcome     Outcome
	Hash        string
	Locator     string
	Certificate *certificate.Display
	Cached      bool
	Err         error
}

// Response is the wire form of a Result.
type Response struct {
	Outcome     Outcome              `json:"outcome"`
	Hash        string               `json:"hash"`
	Locator     string               `json:"locator,omitempty"`
	Certificate *certificate.Display `json:"certificate,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Response converts r for encoding.
func (r Result) Response() Response {
	resp := Response{
		Outcome:     r.Outcome,
		Hash:        r.Hash,
		Locator:     r.Locator,
		Certificate: r.Certificate,
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

// AnchorResolver looks up the locator anchored under a hash.
// ledger.Ledger and *ledger.Client satisfy it.
type AnchorResolver interface {
	Resolve(ctx context.Context, hash string) (string, error)
}

// Fetcher reads content by locator. contentstore.Store satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Config tunes a Resolver.
type Config struct {
	FetchTimeout time.Duration // default 10s
	CacheTTL     time.Duration // 0 disables the cache
	StrictHash   bool          // reject hashes that are not 0x + 64 hex digits
	BindHash     bool          // require Keccak-256(content) == hash
}

// Resolver verifies certificates. It is safe for concurrent use.
type Resolver struct {
	ledger   AnchorResolver
	store    Fetcher
	cfg      Config
	cache    *resultCache
	logger   *zap.Logger
	recorder func(Outcome)
}

// New creates a Resolver.
func New(l AnchorResolver, store Fetcher, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	r := &Resolver{
		ledger: l,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
	if cfg.CacheTTL > 0 {
		r.cache = newResultCache(cfg.CacheTTL)
	}
	return r
}

// SetRecorder registers fn to be called with every outcome, cached or not.
func (r *Resolver) SetRecorder(fn func(Outcome)) { r.recorder = fn }

// Verify runs the read path for hash.
func (r *Resolver) Verify(ctx context.Context, hash string) Result {
	res := r.verify(ctx, hash)
	if r.recorder != nil {
		r.recorder(res.Outcome)
	}
	if res.Outcome != Verified {
		r.logger.Info("verification failed",
			zap.String("hash", res.Hash),
			zap.Stringer("outcome", res.Outcome),
			zap.Error(res.Err),
		)
	}
	return res
}

func (r *Resolver) verify(ctx context.Context, hash string) Result {
	hash = strings.TrimSpace(hash)
	if r.cfg.StrictHash {
		hash = certificate.NormalizeHash(hash)
		if !certificate.ValidAnchorHash(hash) {
			return Result{Outcome: InvalidHash, Hash: hash,
				Err: fmt.Errorf("%q is not a 0x-prefixed 32-byte hex hash", hash)}
		}
	} else if hash == "" {
		return Result{Outcome: InvalidHash, Err: errors.New("hash is required")}
	}

	if r.cache != nil {
		if e, ok := r.cache.get(hash); ok {
			d := e.display
			return Result{Outcome: Verified, Hash: hash, Locator: e.locator, Certificate: &d, Cached: true}
		}
	}

	locator, err := r.ledger.Resolve(ctx, hash)
	switch {
	case errors.Is(err, ledger.ErrNotAnchored):
		return Result{Outcome: NotAnchored, Hash: hash, Err: err}
	case err != nil:
		return Result{Outcome: TransportError, Hash: hash, Err: fmt.Errorf("resolve anchor: %w", err)}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	data, err := r.store.Fetch(fetchCtx, locator)
	if err != nil {
		return Result{Outcome: ContentUnavailable, Hash: hash, Locator: locator, Err: fmt.Errorf("fetch %s: %w", locator, err)}
	}

	rec, err := certificate.Decode(data)
	if err != nil {
		return Result{Outcome: ContentUnavailable, Hash: hash, Locator: locator, Err: err}
	}
	if !rec.Scores.CheckTotal() {
		return Result{Outcome: IntegrityMismatch, Hash: hash, Locator: locator,
			Err: fmt.Errorf("embedded total %d does not match sub-scores (want %d)", rec.Scores.Total, rec.Scores.Exam().Total())}
	}
	if r.cfg.BindHash {
		if got := certificate.AnchorHash(data); got != certificate.NormalizeHash(hash) {
			return Result{Outcome: IntegrityMismatch, Hash: hash, Locator: locator,
				Err: fmt.Errorf("content hashes to %s", got)}
		}
	}

	d := rec.Project()
	if r.cache != nil {
		r.cache.set(hash, locator, d)
	}
	r.logger.Debug("verified", zap.String("hash", hash), zap.String("locator", locator))
	return Result{Outcome: Verified, Hash: hash, Locator: locator, Certificate: d}
}

// Invalidate drops a cached result.
func (r *Resolver) Invalidate(hash string) {
	if r.cache != nil {
		r.cache.invalidate(hash)
	}
}

// CacheLen returns the number of cached results.
func (r *Resolver) CacheLen() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.len()
}

// StartCacheEviction periodically drops expired results until ctx is done.
func (r *Resolver) StartCacheEviction(ctx context.Context, interval time.Duration) {
	if r.cache == nil {
		return
	}
	if interval == 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := r.cache.evict(); n > 0 {
					r.logger.Debug("cache eviction", zap.Int("evicted", n))
				}
			}
		}
	}()
}

var _ Fetcher = contentstore.Store(nil)
