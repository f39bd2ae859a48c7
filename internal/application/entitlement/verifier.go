// Package entitlement implements the license verifier, the progress store,
// and the per-course entitlement session that composes them with the content
// resolver. This is the facade a presentation layer talks to.
package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/chainacademy/entitlement-core/internal/domain/license"
	"github.com/chainacademy/entitlement-core/internal/domain/shared"
	"github.com/chainacademy/entitlement-core/pkg/logger"
	"github.com/chainacademy/entitlement-core/pkg/retry"
)

// errLicenseNotValid is the internal marker for a successful query that came
// back negative. It drives the single bounded re-check and never escapes
// Verify.
var errLicenseNotValid = errors.New("license not valid")

// VerifyResult is the answer to "does this principal hold a valid,
// unexpired license for this course".
type VerifyResult struct {
	Valid     bool
	CheckedAt time.Time
}

// Verifier answers license questions against the ledger. It never errors for
// "not valid" - only for transport failure, and then it still reports
// Valid=false: access defaults to denied under any ambiguity.
type Verifier struct {
	ledger  license.Querier
	retrier *retry.Retrier
	clock   func() time.Time
	log     *logger.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source. Tests use it to move licenses across
// their expiry.
func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) { v.clock = clock }
}

// WithRecheckRetrier overrides the re-check retrier. Tests use it to drop
// the fixed delay.
func WithRecheckRetrier(r *retry.Retrier) VerifierOption {
	return func(v *Verifier) { v.retrier = r }
}

// NewVerifier creates a Verifier over the given ledger querier.
func NewVerifier(ledger license.Querier, log *logger.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		ledger:  ledger,
		retrier: retry.LicenseRecheckRetrier(),
		clock:   time.Now,
		log:     log,
	}
	if v.log == nil {
		v.log = logger.Default()
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks whether principal holds a valid license for courseID.
//
// A transport failure on the query reports Valid=false (fail closed) and
// surfaces the error as a recoverable condition; it is NOT retried here -
// that failure class is different from a negative answer and retrying it
// would unbound total latency.
//
// A successful query that comes back negative is re-queried exactly once
// after a fixed 1000 ms delay before the negative result is accepted: the
// ledger's read path can lag a mint transaction, and one bounded re-check
// absorbs that window.
func (v *Verifier) Verify(ctx context.Context, principal shared.Principal, courseID shared.CourseID) (VerifyResult, error) {
	var transportErr error

	err := v.retrier.Do(ctx, func(ctx context.Context) error {
		lic, qerr := v.ledger.QueryLicense(ctx, principal, courseID)
		if qerr != nil {
			if shared.IsNotFound(qerr) {
				// A clean "no license" answer: eligible for the one re-check.
				return retry.Retryable(errLicenseNotValid)
			}
			transportErr = qerr
			return retry.Permanent(qerr)
		}
		if !lic.ValidAt(v.clock()) {
			return retry.Retryable(errLicenseNotValid)
		}
		return nil
	})

	checkedAt := v.clock()

	if err == nil {
		return VerifyResult{Valid: true, CheckedAt: checkedAt}, nil
	}

	if transportErr != nil {
		v.log.Warn("license query failed, denying access",
			logger.Principal(principal.String()),
			logger.Course(courseID.String()),
			logger.Err(transportErr),
		)
		return VerifyResult{Valid: false, CheckedAt: checkedAt},
			shared.WrapError("license", "Verify", shared.ErrTransport, "ledger query failed", transportErr)
	}

	// Negative answer confirmed by the re-check (or context cut it short).
	if ctxErr := ctx.Err(); ctxErr != nil {
		return VerifyResult{Valid: false, CheckedAt: checkedAt}, ctxErr
	}
	return VerifyResult{Valid: false, CheckedAt: checkedAt}, nil
}
