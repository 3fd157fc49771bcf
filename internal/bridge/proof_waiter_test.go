package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAwaitProof_ReadyAfterPolls(t *testing.T) {
	source := &mockProofSource{}
	msgID := MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 7}
	proof := &Proof{MessageID: msgID, Bytes: []byte{0xaa}, Signatures: 13}

	source.On("GetProof", mock.Anything, msgID).
		Return(nil, ErrProofNotReady).Times(3)
	source.On("GetProof", mock.Anything, msgID).
		Return(proof, nil)

	w := NewProofWaiter(source, zap.NewNop().Sugar()).WithClock(newFakeClock())

	got, err := w.AwaitProof(context.Background(), msgID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, proof, got)
	source.AssertNumberOfCalls(t, "GetProof", 4)
}

func TestAwaitProof_Timeout(t *testing.T) {
	source := &mockProofSource{}
	msgID := MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 7}

	source.On("GetProof", mock.Anything, msgID).
		Return(nil, ErrProofNotReady)

	w := NewProofWaiter(source, zap.NewNop().Sugar()).WithClock(newFakeClock())

	_, err := w.AwaitProof(context.Background(), msgID, time.Minute)
	assert.ErrorIs(t, err, ErrProofTimeout)

	// 1 minute at the 5s default cadence.
	source.AssertNumberOfCalls(t, "GetProof", 12)
}

func TestAwaitProof_TransportErrorsAreRetried(t *testing.T) {
	source := &mockProofSource{}
	msgID := MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 7}
	proof := &Proof{MessageID: msgID, Bytes: []byte{0xaa}}

	source.On("GetProof", mock.Anything, msgID).
		Return(nil, errors.New("connection refused")).Twice()
	source.On("GetProof", mock.Anything, msgID).
		Return(proof, nil)

	w := NewProofWaiter(source, zap.NewNop().Sugar()).WithClock(newFakeClock())

	got, err := w.AwaitProof(context.Background(), msgID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, proof, got)
}

func TestAwaitProof_ContextCancelled(t *testing.T) {
	source := &mockProofSource{}
	msgID := MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 7}

	ctx, cancel := context.WithCancel(context.Background())
	source.On("GetProof", mock.Anything, msgID).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, ErrProofNotReady)

	w := NewProofWaiter(source, zap.NewNop().Sugar()).WithClock(newFakeClock())

	_, err := w.AwaitProof(ctx, msgID, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAwaitProof_ZeroTimeoutUsesDefault(t *testing.T) {
	source := &mockProofSource{}
	msgID := MessageID{Chain: ChainEthereum, Emitter: "0xemitter", Sequence: 7}
	proof := &Proof{MessageID: msgID, Bytes: []byte{0xaa}}

	source.On("GetProof", mock.Anything, msgID).
		Return(proof, nil)

	w := NewProofWaiter(source, zap.NewNop().Sugar()).WithClock(newFakeClock())

	got, err := w.AwaitProof(context.Background(), msgID, 0)
	require.NoError(t, err)
	assert.Equal(t, proof, got)
}
