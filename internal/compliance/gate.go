// Package compliance decides whether a transfer may proceed. Evaluation is
// strictly ordered and short-circuits: identity (KYC) first, then the AML
// risk score. Business denials are returned as a Decision; errors are
// reserved for malformed input and lookup failures.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"remitgate/internal/compliance/metrics"
	"remitgate/internal/compliance/models"
	"remitgate/internal/compliance/ports"
	"remitgate/internal/risk"
	dErrors "remitgate/pkg/domain-errors"
	"remitgate/pkg/platform/sentinel"
	"remitgate/pkg/requestcontext"
)

const (
	ReasonIdentityNotFound = "identity not found"
	ReasonPEPMatch         = "high-risk individual match"
	ReasonKYCVerified      = "KYC verified"
)

// lookupTimeout bounds the parallel flag lookups.
const lookupTimeout = 3 * time.Second

// Scorer is the risk scoring capability the gate depends on.
type Scorer interface {
	Score(in risk.Input) risk.Assessment
}

// Gate evaluates compliance for one transfer at a time; it holds no
// per-request state and is safe for concurrent use.
type Gate struct {
	profiles ports.ProfileRepository
	flags    ports.FlagChecker
	scorer   Scorer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithFlagChecker enables flagged-address lookups. Without one, no address
// is considered listed and only the rule table's reserved patterns apply.
func WithFlagChecker(flags ports.FlagChecker) Option {
	return func(g *Gate) {
		g.flags = flags
	}
}

func New(profiles ports.ProfileRepository, scorer Scorer, opts ...Option) (*Gate, error) {
	if profiles == nil {
		return nil, errors.New("profile repository is required")
	}
	if scorer == nil {
		return nil, errors.New("risk scorer is required")
	}
	g := &Gate{
		profiles: profiles,
		scorer:   scorer,
		tracer:   otel.Tracer("remitgate/compliance"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Evaluate runs KYC then AML for req.
func (g *Gate) Evaluate(ctx context.Context, req models.Request) (*models.Decision, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "compliance.evaluate",
		trace.WithAttributes(attribute.String("sender", req.Sender.String())))
	defer span.End()

	start := time.Now()
	defer func() { g.metrics.ObserveEvaluateLatency(time.Since(start)) }()

	decision := &models.Decision{EvaluatedAt: requestcontext.Now(ctx)}

	profile, err := g.lookupProfile(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile lookup failed")
		return nil, err
	}
	if reason, ok := kycVerdict(profile); !ok {
		g.deny(ctx, decision, models.StageKYC, reason)
		span.SetAttributes(attribute.String("stage", string(models.StageKYC)), attribute.Bool("allowed", false))
		return decision, nil
	}
	decision.Stages = append(decision.Stages, models.StageOutcome{
		Stage: models.StageKYC, Passed: true, Message: ReasonKYCVerified,
	})
	g.metrics.IncrementDecision(string(models.StageKYC), true)

	senderListed, recipientListed, err := g.lookupFlags(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flag lookup failed")
		return nil, err
	}

	assessment := g.scorer.Score(risk.Input{
		Sender:          req.Sender,
		Recipient:       req.Recipient,
		Amount:          req.Amount,
		HourUTC:         decision.EvaluatedAt.UTC().Hour(),
		SenderListed:    senderListed || profile.Blacklisted,
		RecipientListed: recipientListed,
	})
	g.metrics.ObserveRiskScore(assessment.Score)

	score := assessment.Score
	decision.Score = &score
	decision.Factors = assessment.Factors
	decision.RuleVersion = assessment.Version
	span.SetAttributes(attribute.Int("risk_score", score), attribute.String("rule_version", assessment.Version))

	if assessment.Exceeded() {
		g.deny(ctx, decision, models.StageAML, assessment.Reason())
		span.SetAttributes(attribute.String("stage", string(models.StageAML)), attribute.Bool("allowed", false))
		return decision, nil
	}

	decision.Allowed = true
	decision.Stage = models.StageAML
	decision.Reason = assessment.Reason()
	decision.Stages = append(decision.Stages, models.StageOutcome{
		Stage: models.StageAML, Passed: true, Message: decision.Reason,
	})
	g.metrics.IncrementDecision(string(models.StageAML), true)
	span.SetAttributes(attribute.String("stage", string(models.StageAML)), attribute.Bool("allowed", true))
	return decision, nil
}

func validate(req models.Request) error {
	if req.Sender.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "sender is required")
	}
	if req.Recipient.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "recipient is required")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	return nil
}

// kycVerdict applies the identity rules in order: presence, status, PEP.
func kycVerdict(profile *models.Profile) (string, bool) {
	if profile == nil {
		return ReasonIdentityNotFound, false
	}
	if profile.Status != models.StatusVerified {
		return fmt.Sprintf("identity not verified (status: %s)", profile.Status), false
	}
	if profile.PEP {
		return ReasonPEPMatch, false
	}
	return "", true
}

func (g *Gate) deny(ctx context.Context, d *models.Decision, stage models.Stage, reason string) {
	d.Allowed = false
	d.Stage = stage
	d.Reason = reason
	d.Stages = append(d.Stages, models.StageOutcome{Stage: stage, Passed: false, Message: reason})
	g.metrics.IncrementDecision(string(stage), false)
	if g.logger != nil {
		g.logger.InfoContext(ctx, "compliance denied",
			"stage", stage,
			"reason", reason,
		)
	}
}

// lookupProfile returns nil without error when the identity is unknown.
func (g *Gate) lookupProfile(ctx context.Context, req models.Request) (*models.Profile, error) {
	start := time.Now()
	profile, err := g.profiles.Lookup(ctx, req.Sender)
	g.metrics.ObserveLookupLatency("profile", time.Since(start))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up compliance profile")
	}
	return profile, nil
}

func (g *Gate) lookupFlags(ctx context.Context, req models.Request) (senderListed, recipientListed bool, err error) {
	if g.flags == nil {
		return false, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		start := time.Now()
		listed, err := g.flags.IsFlagged(ctx, models.RoleSender, req.Sender)
		g.metrics.ObserveLookupLatency("sender_flag", time.Since(start))
		senderListed = listed
		return err
	})
	grp.Go(func() error {
		start := time.Now()
		listed, err := g.flags.IsFlagged(ctx, models.RoleRecipient, req.Recipient)
		g.metrics.ObserveLookupLatency("recipient_flag", time.Since(start))
		recipientListed = listed
		return err
	})
	if err := grp.Wait(); err != nil {
		return false, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check flagged addresses")
	}
	return senderListed, recipientListed, nil
}
