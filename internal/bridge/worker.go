package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when the advisory lock extension point
// is enabled and another run already holds the pair.
var ErrRunInProgress = errors.New("run already in progress for this pair")

// RunRecord is the persisted view of one workflow run. The core never
// persists anything itself; the worker hands records to whatever
// RunRecorder the caller wired in.
type RunRecord struct {
	ID               string    `json:"id"`
	Kind             string    `json:"kind"` // "create" or "resume"
	SourceChain      ChainID   `json:"sourceChain"`
	SourceAddress    string    `json:"sourceAddress"`
	DestinationChain ChainID   `json:"destinationChain"`
	Network          Network   `json:"network"`
	State            State     `json:"state"`
	AttestationTxID  string    `json:"attestationTransactionId,omitempty"`
	MessageID        string    `json:"messageId,omitempty"`
	WrappedAddress   string    `json:"wrappedAddress,omitempty"`
	ErrorKind        string    `json:"errorKind,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// RunRecorder persists run history on behalf of the caller.
type RunRecorder interface {
	CreateRun(ctx context.Context, rec *RunRecord) error
	UpdateState(ctx context.Context, id string, state State, errorKind string) error
	FinishRun(ctx context.Context, rec *RunRecord) error
}

// AdvisoryLocker is the optional per-pair mutual-exclusion extension
// point. Acquire reports ok=false when the key is already held.
type AdvisoryLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// MessageRetainer keeps message ids of proof-timed-out runs so a later
// resume can pick them up without re-issuing.
type MessageRetainer interface {
	RetainMessage(ctx context.Context, pairKey string, id MessageID) error
	RetainedMessage(ctx context.Context, pairKey string) (*MessageID, error)
}

type workerJob struct {
	runID  string
	ctx    context.Context // the submitter's context; cancels the run
	create *CreateWrappedRequest
	resume *ResumeRequest
	result chan workerResult
}

type workerResult struct {
	res *Result
	err error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRecorder persists run history through rec.
func WithRecorder(rec RunRecorder) WorkerOption {
	return func(w *Worker) { w.recorder = rec }
}

// WithSink forwards state transitions (e.g. to a websocket hub).
func WithSink(s StatusSink) WorkerOption {
	return func(w *Worker) { w.sink = s }
}

// WithLocker enables the per-pair advisory lock.
func WithLocker(l AdvisoryLocker) WorkerOption {
	return func(w *Worker) { w.locker = l }
}

// WithRetainer stores message ids of resumable failures.
func WithRetainer(r MessageRetainer) WorkerOption {
	return func(w *Worker) { w.retainer = r }
}

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// Worker consumes wrapped-token requests and drives the orchestrator,
// one goroutine per in-flight run up to the configured concurrency.
// Runs are independent; there is no cross-run ordering.
type Worker struct {
	orch   *Orchestrator
	logger *zap.SugaredLogger
	jobs   chan workerJob

	recorder    RunRecorder
	sink        StatusSink
	locker      AdvisoryLocker
	retainer    MessageRetainer
	concurrency int
}

func NewWorker(orch *Orchestrator, logger *zap.SugaredLogger, opts ...WorkerOption) *Worker {
	w := &Worker{
		orch:        orch,
		logger:      logger,
		jobs:        make(chan workerJob, 64),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(w)
	}
	// The worker observes every transition so it can fan out to the
	// recorder and the live sink.
	orch.status = w
	return w
}

// Start spins up the worker pool; call once during application startup.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Infow("Attestation worker starting", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.jobs:
					res, err := w.run(ctx, job)
					job.result <- workerResult{res: res, err: err}
				}
			}
		}()
	}
}

// Submit enqueues a create-wrapped run and waits for its terminal
// result. The returned run id identifies the run in history and status
// streams.
func (w *Worker) Submit(ctx context.Context, req CreateWrappedRequest) (string, *Result, error) {
	job := workerJob{
		runID:  uuid.NewString(),
		create: &req,
		result: make(chan workerResult, 1),
	}
	return w.dispatch(ctx, job)
}

// SubmitResume enqueues a resume run for a retained message id.
func (w *Worker) SubmitResume(ctx context.Context, req ResumeRequest) (string, *Result, error) {
	job := workerJob{
		runID:  uuid.NewString(),
		resume: &req,
		result: make(chan workerResult, 1),
	}
	return w.dispatch(ctx, job)
}

func (w *Worker) dispatch(ctx context.Context, job workerJob) (string, *Result, error) {
	job.ctx = ctx

	select {
	case w.jobs <- job:
	case <-ctx.Done():
		return job.runID, nil, ctx.Err()
	}

	select {
	case res := <-job.result:
		return job.runID, res.res, res.err
	case <-ctx.Done():
		return job.runID, nil, ctx.Err()
	}
}

// run executes the job under a context that cancels on either pool
// shutdown or the submitter's cancellation. An abandoned caller frees
// its worker slot instead of holding it through the full proof wait;
// the partially-progressed run still lands in history via finish.
func (w *Worker) run(poolCtx context.Context, job workerJob) (*Result, error) {
	runCtx, cancel := context.WithCancel(job.ctx)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	return w.handle(runCtx, job)
}

func (w *Worker) handle(ctx context.Context, job workerJob) (*Result, error) {
	var (
		source AssetRef
		dest   ChainID
		net    Network
		kind   = "create"
	)
	if job.resume != nil {
		source, dest, net, kind = job.resume.SourceAsset, job.resume.DestinationChain, job.resume.Network, "resume"
	} else {
		source, dest, net = job.create.SourceAsset, job.create.DestinationChain, job.create.Network
	}

	ctx = WithRunID(ctx, job.runID)
	pairKey := source.PairKey(dest)

	if w.locker != nil {
		release, ok, err := w.locker.Acquire(ctx, pairKey, 30*time.Minute)
		if err != nil {
			w.logger.Warnw("Advisory lock unavailable; proceeding unlocked", "pair", pairKey, "error", err)
		} else if !ok {
			return nil, ErrRunInProgress
		} else {
			defer release()
		}
	}

	rec := &RunRecord{
		ID:               job.runID,
		Kind:             kind,
		SourceChain:      source.Chain,
		SourceAddress:    source.Address,
		DestinationChain: dest,
		Network:          net,
		State:            StateCheckingExisting,
		CreatedAt:        time.Now(),
	}
	if w.recorder != nil {
		if err := w.recorder.CreateRun(ctx, rec); err != nil {
			w.logger.Warnw("Failed to record run start", "runId", job.runID, "error", err)
		}
	}

	var (
		res *Result
		err error
	)
	if job.resume != nil {
		res, err = w.orch.ResumeFromMessage(ctx, *job.resume)
	} else {
		res, err = w.orch.CreateWrapped(ctx, *job.create)
	}
	if err != nil {
		w.finish(ctx, rec, &Result{Err: &RunError{Err: err}})
		return nil, err
	}

	if res.MessageID != nil && errors.Is(res.Err, ErrProofTimeout) && w.retainer != nil {
		if rerr := w.retainer.RetainMessage(ctx, pairKey, *res.MessageID); rerr != nil {
			w.logger.Warnw("Failed to retain message id for resumption",
				"runId", job.runID,
				"messageId", res.MessageID.String(),
				"error", rerr,
			)
		}
	}

	w.finish(ctx, rec, res)
	return res, nil
}

func (w *Worker) finish(ctx context.Context, rec *RunRecord, res *Result) {
	rec.UpdatedAt = time.Now()
	rec.ErrorKind = res.ErrorKind()
	if res.Success {
		rec.State = StateDone
	} else {
		rec.State = StateFailed
	}
	rec.AttestationTxID = res.AttestationTxID
	if res.MessageID != nil {
		rec.MessageID = res.MessageID.String()
	}
	if res.WrappedToken != nil {
		rec.WrappedAddress = res.WrappedToken.Address
	}
	if w.recorder != nil {
		// Detached from the run context so a cancelled run still gets a
		// terminal record.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.recorder.FinishRun(fctx, rec); err != nil {
			w.logger.Warnw("Failed to record run result", "runId", rec.ID, "error", err)
		}
	}
}

// RunTransition implements StatusSink: the worker fans transitions out
// to the persistent recorder and the live sink.
func (w *Worker) RunTransition(runID string, state State, errorKind string) {
	if w.recorder != nil && runID != "" && state != StateDone && state != StateFailed {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.recorder.UpdateState(ctx, runID, state, errorKind); err != nil {
			w.logger.Debugw("Failed to record state transition", "runId", runID, "state", state, "error", err)
		}
	}
	if w.sink != nil {
		w.sink.RunTransition(runID, state, errorKind)
	}
}
