// Package resolve turns an opaque content identifier into a playable network
// location, via an optimized resolution service with an ordered fallback
// gateway chain.
package resolve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/chainacademy/entitlement-core/internal/domain/content"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
)

// OptimizedService is the port to the optimized resolution service. One call
// is one network round trip; any error makes the resolver fall back.
type OptimizedService interface {
	Resolve(ctx context.Context, canonicalID string, kind content.MediaKind) (string, error)
}

// NoOptimizedService returns an OptimizedService that always reports
// unavailable, for deployments without a resolution service: every request
// goes straight to the fallback chain.
func NoOptimizedService() OptimizedService {
	return noOptimizedService{}
}

type noOptimizedService struct{}

func (noOptimizedService) Resolve(context.Context, string, content.MediaKind) (string, error) {
	return "", shared.ErrOptimizedResolution
}

// DefaultFallbackGateways is the compiled-in fallback chain, used when no
// override is configured. Order matters: index 0 is handed out first.
func DefaultFallbackGateways() []string {
	return []string{
		"https://ipfs.io/ipfs/{cid}",
		"https://cloudflare-ipfs.com/ipfs/{cid}",
		"https://dweb.link/ipfs/{cid}",
		"https://w3s.link/ipfs/{cid}",
	}
}

// Config holds resolver configuration.
type Config struct {
	// FallbackGateways is the ordered list of URL templates. Each entry
	// either contains a {cid} placeholder or is treated as a base URL the
	// canonical identifier is appended to.
	FallbackGateways []string

	// Logger for structured logging.
	Logger *slog.Logger

	// Bus, when set, receives resolve.fell_back events so operators can
	// see optimized-service degradation without scraping logs.
	Bus shared.EventPublisher
}

// Resolver resolves content identifiers. It is stateless and safe for
// concurrent use.
type Resolver struct {
	svc      OptimizedService
	gateways []string
	logger   *slog.Logger
	bus      shared.EventPublisher
}

// New creates a Resolver backed by the given optimized service.
func New(svc OptimizedService, cfg Config) *Resolver {
	gateways := cfg.FallbackGateways
	if gateways == nil {
		gateways = DefaultFallbackGateways()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		svc:      svc,
		gateways: gateways,
		logger:   logger,
		bus:      cfg.Bus,
	}
}

// Resolve resolves a raw identifier into a playable location.
//
// The identifier may carry a scheme:// prefix, which is stripped. A reserved
// sentinel identifier yields the designated no-content result with a nil
// error - a distinct outcome from failure. On any optimized-service error the
// first fallback gateway candidate is returned immediately, without probing
// it for liveness: the consumer's playback error handler owns the
// user-visible retry, and serially health-checking every gateway would tax
// the common healthy case.
func (r *Resolver) Resolve(ctx context.Context, identifier string, kind content.MediaKind) (content.ResolvedContent, error) {
	canonical := content.CanonicalIdentifier(identifier)
	if canonical == "" {
		return content.ResolvedContent{}, shared.ErrEmptyIdentifier
	}
	if content.IsNoContentIdentifier(identifier) {
		return content.NoContent(), nil
	}

	url, err := r.svc.Resolve(ctx, canonical, kind)
	if err == nil && url != "" {
		return content.ResolvedContent{
			CanonicalID: canonical,
			URL:         url,
			Tier:        content.TierOptimized(),
		}, nil
	}

	if err != nil {
		r.logger.Warn("optimized resolution failed, falling back",
			"cid", canonical, "kind", string(kind), "error", err)
	}

	resolved, ferr := r.fallbackAt(canonical, 0)
	if ferr != nil {
		return content.ResolvedContent{}, ferr
	}
	if r.bus != nil {
		reason := "empty url"
		if err != nil {
			reason = err.Error()
		}
		_ = r.bus.Publish(shared.NewResolutionFellBackEvent(canonical, 0, reason))
	}
	return resolved, nil
}

// NextFallback returns the fallback candidate after prev, for consumers whose
// playback of prev failed. Resolution stays single-shot by default; advancing
// through the chain is an explicit consumer decision.
func (r *Resolver) NextFallback(prev content.ResolvedContent) (content.ResolvedContent, error) {
	if prev.IsNoContent() || prev.CanonicalID == "" {
		return content.ResolvedContent{}, shared.ErrEmptyIdentifier
	}
	next := 0
	if !prev.Tier.Optimized {
		next = prev.Tier.Gateway + 1
	}
	return r.fallbackAt(prev.CanonicalID, next)
}

// fallbackAt builds the n-th fallback candidate by template substitution.
func (r *Resolver) fallbackAt(canonical string, n int) (content.ResolvedContent, error) {
	if len(r.gateways) == 0 || n >= len(r.gateways) {
		return content.ResolvedContent{}, shared.ErrNoFallbackGateways
	}
	return content.ResolvedContent{
		CanonicalID: canonical,
		URL:         expandTemplate(r.gateways[n], canonical),
		Tier:        content.TierFallback(n),
	}, nil
}

// expandTemplate substitutes the canonical identifier into a gateway
// template. Templates without a {cid} placeholder are treated as base URLs.
func expandTemplate(template, canonical string) string {
	if strings.Contains(template, "{cid}") {
		return strings.ReplaceAll(template, "{cid}", canonical)
	}
	return strings.TrimSuffix(template, "/") + "/" + canonical
}
