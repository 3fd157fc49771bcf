package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRecorder struct {
	mu       sync.Mutex
	created  []RunRecord
	updates  []State
	finished []RunRecord
}

func (r *fakeRecorder) CreateRun(_ context.Context, rec *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, *rec)
	return nil
}

func (r *fakeRecorder) UpdateState(_ context.Context, _ string, state State, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, state)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, rec *RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, *rec)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

type fakeRetainer struct {
	mu       sync.Mutex
	retained map[string]MessageID
}

func newFakeRetainer() *fakeRetainer {
	return &fakeRetainer{retained: make(map[string]MessageID)}
}

func (r *fakeRetainer) RetainMessage(_ context.Context, pairKey string, id MessageID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retained[pairKey] = id
	return nil
}

func (r *fakeRetainer) RetainedMessage(_ context.Context, pairKey string) (*MessageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.retained[pairKey]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func startWorker(t *testing.T, f *orchestratorFixture, opts ...WorkerOption) *Worker {
	t.Helper()

	w := NewWorker(f.orch, zap.NewNop().Sugar(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w.Start(ctx)
	return w
}

func TestWorker_RecordsRunLifecycle(t *testing.T) {
	f := newOrchestratorFixture(t)
	rec := &fakeRecorder{}
	w := startWorker(t, f, WithRecorder(rec))

	f.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil)

	runID, res, err := w.Submit(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, runID)

	require.Len(t, rec.created, 1)
	assert.Equal(t, runID, rec.created[0].ID)
	assert.Equal(t, "create", rec.created[0].Kind)

	require.Len(t, rec.finished, 1)
	assert.Equal(t, StateDone, rec.finished[0].State)
	assert.Equal(t, "0xwrapped", rec.finished[0].WrappedAddress)
	assert.Empty(t, rec.finished[0].ErrorKind)
}

func TestWorker_LockedPairRejectsSecondRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	locker := newFakeLocker()
	w := startWorker(t, f, WithLocker(locker), WithConcurrency(2))

	req := testRequest()
	release, ok, err := locker.Acquire(context.Background(), req.SourceAsset.PairKey(req.DestinationChain), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, _, err = w.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrRunInProgress)

	// A different pair is unaffected.
	f.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil)
	other := testRequest()
	other.SourceAsset.Address = "0xother"
	_, res, err := w.Submit(context.Background(), other)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestWorker_RetainsMessageOnProofTimeout(t *testing.T) {
	f := newOrchestratorFixture(t)
	retainer := newFakeRetainer()
	rec := &fakeRecorder{}
	w := startWorker(t, f, WithRetainer(retainer), WithRecorder(rec))

	msgID := MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 7}

	f.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("", ErrNoWrappedAsset)
	f.ethBridge.On("CreateAttestation", mock.Anything, mock.Anything, "0xsigner").
		Return(&UnsignedTx{Chain: ChainEthereum, Payload: []byte{0x01}}, nil)
	f.ethClient.On("SubmitAndWait", mock.Anything, mock.Anything).
		Return(&TxReceipt{TxID: "0xattesttx"}, nil)
	f.ethBridge.On("ParseAttestationMessage", mock.Anything).
		Return(&msgID, nil)
	f.proofs.On("GetProof", mock.Anything, msgID).
		Return(nil, ErrProofNotReady)

	req := testRequest()
	_, res, err := w.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrProofTimeout)

	retained, err := retainer.RetainedMessage(context.Background(), req.SourceAsset.PairKey(req.DestinationChain))
	require.NoError(t, err)
	require.NotNil(t, retained)
	assert.Equal(t, msgID, *retained)

	require.Len(t, rec.finished, 1)
	assert.Equal(t, StateFailed, rec.finished[0].State)
	assert.Equal(t, KindProofTimeout, rec.finished[0].ErrorKind)
	assert.Equal(t, msgID.String(), rec.finished[0].MessageID)
}

func TestWorker_ResumeRunKind(t *testing.T) {
	f := newOrchestratorFixture(t)
	rec := &fakeRecorder{}
	w := startWorker(t, f, WithRecorder(rec))

	f.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil)

	_, res, err := w.SubmitResume(context.Background(), ResumeRequest{
		MessageID:        MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 42},
		SourceAsset:      AssetRef{Chain: ChainEthereum, Address: "0xcafe"},
		DestinationChain: ChainSui,
		Network:          NetworkTestnet,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, rec.created, 1)
	assert.Equal(t, "resume", rec.created[0].Kind)
}

func TestWorker_FansTransitionsToSink(t *testing.T) {
	f := newOrchestratorFixture(t)
	sink := &recordingSink{}
	rec := &fakeRecorder{}
	w := startWorker(t, f, WithSink(sink), WithRecorder(rec))

	f.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("0xwrapped", nil)

	_, _, err := w.Submit(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, []State{StateCheckingExisting, StateDone}, sink.recorded())
	// Terminal states go through FinishRun, not UpdateState.
	assert.Equal(t, []State{StateCheckingExisting}, rec.updates)
}

func TestWorker_CallerCancellationAbortsRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	rec := &fakeRecorder{}
	w := startWorker(t, f, WithRecorder(rec))

	started := make(chan struct{})
	var once sync.Once
	f.suiBridge.On("GetWrappedAsset", mock.Anything, mock.Anything).
		Return("", ErrNoWrappedAsset)
	f.ethBridge.On("CreateAttestation", mock.Anything, mock.Anything, "0xsigner").
		Return(&UnsignedTx{Chain: ChainEthereum, Payload: []byte{0x01}}, nil)
	f.ethClient.On("SubmitAndWait", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			once.Do(func() { close(started) })
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		res *Result
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, res, err = w.Submit(ctx, testRequest())
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after cancellation")
	}

	// The submitter observes either its own context error or the failed
	// result, depending on which select fires first.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	} else {
		require.NotNil(t, res)
		assert.False(t, res.Success)
	}

	// The aborted run still lands in history as failed.
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.finished) == 1 && rec.finished[0].State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)
}
