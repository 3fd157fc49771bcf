package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/chainspan/chainspan-backend/internal/metrics"
	"go.uber.org/zap"
)

// State names one stop of the forward-only workflow machine. No state
// is ever re-entered within a run.
type State string

const (
	StateCheckingExisting  State = "checking_existing"
	StateAttesting         State = "attesting"
	StateMessageExtracted  State = "message_extracted"
	StateAwaitingProof     State = "awaiting_proof"
	StateSubmittingProof   State = "submitting_proof"
	StateConfirmingWrapped State = "confirming_wrapped"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// DefaultConfirmPolicy bounds the post-submission registry poll:
// 10 attempts, 2 seconds apart, so the whole confirmation phase stays
// under ~20 seconds even when indexing lags.
var DefaultConfirmPolicy = RetryPolicy{MaxAttempts: 10, Interval: 2 * time.Second}

// StatusSink receives state transitions for live observation. Nil-safe
// at the call sites; the orchestrator never blocks on it.
type StatusSink interface {
	RunTransition(runID string, state State, errorKind string)
}

type runIDKey struct{}

// WithRunID tags ctx with the caller-assigned run id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id tagged onto ctx, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock injects a clock for tests.
func WithClock(c Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
			o.waiter.WithClock(c)
		}
	}
}

// WithMetrics attaches run metrics.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStatusSink attaches a transition sink.
func WithStatusSink(s StatusSink) OrchestratorOption {
	return func(o *Orchestrator) { o.status = s }
}

// WithProofTimeout overrides the default proof wait bound.
func WithProofTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.proofTimeout = d
		}
	}
}

// WithProofPollInterval overrides the proof polling cadence.
func WithProofPollInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.waiter.WithPollInterval(d) }
}

// WithConfirmPolicy overrides the confirmation poll policy.
func WithConfirmPolicy(p RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		if p.MaxAttempts > 0 {
			o.confirmPolicy = p
		}
	}
}

// Orchestrator sequences the wrapped-token workflow:
// CheckingExisting → Attesting → MessageExtracted → AwaitingProof →
// SubmittingProof → ConfirmingWrapped → Done | Failed. It holds no
// per-run state and is safe for concurrent runs; it never guards
// against two simultaneous runs for the same pair — the destination
// program's replay safety covers that race, and stricter callers can
// take an advisory lock around Submit.
type Orchestrator struct {
	clients ClientSource
	signers SignerProvider

	resolver  *WrappedAssetResolver
	issuer    *AttestationIssuer
	messages  *MessageResolver
	waiter    *ProofWaiter
	submitter *AttestationSubmitter

	clock         Clock
	proofTimeout  time.Duration
	confirmPolicy RetryPolicy

	metrics *metrics.Metrics
	status  StatusSink
	logger  *zap.SugaredLogger
}

func NewOrchestrator(clients ClientSource, signers SignerProvider, proofs ProofSource, logger *zap.SugaredLogger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		clients:       clients,
		signers:       signers,
		resolver:      NewWrappedAssetResolver(clients, logger),
		issuer:        NewAttestationIssuer(clients, logger),
		messages:      NewMessageResolver(clients, logger),
		waiter:        NewProofWaiter(proofs, logger),
		submitter:     NewAttestationSubmitter(clients, logger),
		clock:         SystemClock(),
		proofTimeout:  DefaultProofTimeout,
		confirmPolicy: DefaultConfirmPolicy,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateWrapped runs the full workflow for req. Expected failure modes
// (timeouts, rejections, missing messages) come back inside the Result;
// the error return fires only for malformed input.
func (o *Orchestrator) CreateWrapped(ctx context.Context, req CreateWrappedRequest) (*Result, error) {
	if err := o.validate(req.SourceAsset, req.DestinationChain, req.Network); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordRunStart(ctx)
	}

	o.transition(ctx, StateCheckingExisting, "")
	if wrapped := o.resolver.PreCheck(ctx, req.Network, req.SourceAsset, req.DestinationChain); wrapped != nil {
		o.logger.Infow("Wrapped asset already exists; no transactions submitted",
			"sourceAsset", req.SourceAsset.String(),
			"wrapped", wrapped.Address,
			"destChain", wrapped.Chain,
		)
		if o.metrics != nil {
			o.metrics.RecordPrecheckHit(ctx)
		}
		return o.done(ctx, &Result{Success: true, WrappedToken: wrapped})
	}

	sourceSigner, err := o.signers.SignerFor(req.Network, req.SourceAsset.Chain)
	if err != nil {
		return o.failed(ctx, &Result{Err: &RunError{Err: fmt.Errorf("%w: source signer: %v", ErrSubmission, err)}})
	}

	o.transition(ctx, StateAttesting, "")
	receipt, err := o.issuer.Issue(ctx, req.Network, req.SourceAsset, sourceSigner)
	if err != nil {
		return o.failed(ctx, &Result{Err: &RunError{Err: err}})
	}

	o.transition(ctx, StateMessageExtracted, "")
	msg, err := o.messages.ExtractMessage(ctx, req.Network, req.SourceAsset.Chain, receipt)
	if err != nil {
		return o.failed(ctx, &Result{
			AttestationTxID: receipt.TxID,
			Err:             &RunError{Err: err, AttestationTxID: receipt.TxID},
		})
	}

	res := o.completeFromMessage(ctx, req.Network, req.SourceAsset, req.DestinationChain, *msg, receipt.TxID, req.Timeout)
	return res, nil
}

// ResumeFromMessage re-enters a run that stopped at the proof wait. The
// retained message id stands in for the issuance that already happened,
// so no second attestation transaction is ever submitted.
func (o *Orchestrator) ResumeFromMessage(ctx context.Context, req ResumeRequest) (*Result, error) {
	if err := o.validate(req.SourceAsset, req.DestinationChain, req.Network); err != nil {
		return nil, err
	}
	if req.MessageID.Emitter == "" {
		return nil, fmt.Errorf("%w: empty message emitter", ErrInvalidAsset)
	}
	if o.metrics != nil {
		o.metrics.RecordRunStart(ctx)
	}

	// A concurrent run (or a prior submission whose confirmation poll
	// expired) may have completed the pair already.
	o.transition(ctx, StateCheckingExisting, "")
	if wrapped := o.resolver.PreCheck(ctx, req.Network, req.SourceAsset, req.DestinationChain); wrapped != nil {
		if o.metrics != nil {
			o.metrics.RecordPrecheckHit(ctx)
		}
		return o.done(ctx, &Result{Success: true, WrappedToken: wrapped, MessageID: &req.MessageID})
	}

	res := o.completeFromMessage(ctx, req.Network, req.SourceAsset, req.DestinationChain, req.MessageID, "", req.Timeout)
	return res, nil
}

// completeFromMessage drives AwaitingProof → SubmittingProof →
// ConfirmingWrapped for an already-extracted message.
func (o *Orchestrator) completeFromMessage(ctx context.Context, network Network, source AssetRef, dest ChainID, msg MessageID, attestTxID string, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = o.proofTimeout
	}

	fail := func(err error) *Result {
		res, _ := o.failed(ctx, &Result{
			AttestationTxID: attestTxID,
			MessageID:       &msg,
			Err:             &RunError{Err: err, MessageID: &msg, AttestationTxID: attestTxID},
		})
		return res
	}

	o.transition(ctx, StateAwaitingProof, "")
	waitStart := o.clock.Now()
	proof, err := o.waiter.AwaitProof(ctx, msg, timeout)
	if o.metrics != nil {
		o.metrics.ObserveProofWait(ctx, o.clock.Now().Sub(waitStart), err == nil)
	}
	if err != nil {
		return fail(err)
	}

	destSigner, err := o.signers.SignerFor(network, dest)
	if err != nil {
		return fail(fmt.Errorf("%w: destination signer: %v", ErrSubmission, err))
	}

	o.transition(ctx, StateSubmittingProof, "")
	if _, err := o.submitter.Submit(ctx, network, dest, proof, destSigner); err != nil {
		return fail(err)
	}

	o.transition(ctx, StateConfirmingWrapped, "")
	wrapped, attempts, err := o.resolver.AwaitWrapped(ctx, network, source, dest, o.confirmPolicy, o.clock)
	if o.metrics != nil {
		o.metrics.ObserveConfirmAttempts(ctx, attempts, err == nil)
	}
	if err != nil {
		return fail(err)
	}

	res, _ := o.done(ctx, &Result{
		Success:         true,
		WrappedToken:    wrapped,
		AttestationTxID: attestTxID,
		MessageID:       &msg,
	})
	return res
}

func (o *Orchestrator) validate(source AssetRef, dest ChainID, network Network) error {
	if source.Address == "" {
		return fmt.Errorf("%w: empty source address", ErrInvalidAsset)
	}
	if _, ok := source.Chain.WireID(); !ok {
		return fmt.Errorf("%w: unsupported source chain %q", ErrInvalidAsset, source.Chain)
	}
	if _, ok := dest.WireID(); !ok {
		return fmt.Errorf("%w: unsupported destination chain %q", ErrInvalidAsset, dest)
	}
	if source.Chain == dest {
		return fmt.Errorf("%w: source and destination chain are both %q", ErrInvalidAsset, dest)
	}
	switch network {
	case NetworkTestnet, NetworkMainnet:
		return nil
	default:
		return fmt.Errorf("%w: unknown network %q", ErrInvalidAsset, network)
	}
}

func (o *Orchestrator) transition(ctx context.Context, state State, kind string) {
	if o.status != nil {
		o.status.RunTransition(RunIDFrom(ctx), state, kind)
	}
}

func (o *Orchestrator) done(ctx context.Context, res *Result) (*Result, error) {
	o.transition(ctx, StateDone, "")
	if o.metrics != nil {
		o.metrics.RecordRunComplete(ctx, "")
	}
	return res, nil
}

func (o *Orchestrator) failed(ctx context.Context, res *Result) (*Result, error) {
	kind := res.ErrorKind()
	o.transition(ctx, StateFailed, kind)
	if o.metrics != nil {
		o.metrics.RecordRunComplete(ctx, kind)
	}
	o.logger.Warnw("Wrapped-token run failed",
		"runId", RunIDFrom(ctx),
		"errorKind", kind,
		"attestationTxId", res.AttestationTxID,
		"messageId", messageIDString(res.MessageID),
		"error", res.Err,
	)
	return res, nil
}

func messageIDString(id *MessageID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
