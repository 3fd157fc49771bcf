package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// WrappedAssetResolver queries destination-chain token bridges for the
// wrapped representation of a source asset. It serves two roles: the
// idempotence pre-check before a run, and the confirmation poll after
// submission.
type WrappedAssetResolver struct {
	clients ClientSource
	logger  *zap.SugaredLogger
}

func NewWrappedAssetResolver(clients ClientSource, logger *zap.SugaredLogger) *WrappedAssetResolver {
	return &WrappedAssetResolver{clients: clients, logger: logger}
}

// Resolve performs a single read-only registry lookup. Returns
// ErrNoWrappedAsset when the destination chain has no wrapped
// representation of source yet.
func (r *WrappedAssetResolver) Resolve(ctx context.Context, network Network, source AssetRef, dest ChainID) (*WrappedAssetRef, error) {
	client, err := r.clients.Client(network, dest)
	if err != nil {
		return nil, fmt.Errorf("destination client: %w", err)
	}

	addr, err := client.TokenBridge().GetWrappedAsset(ctx, source)
	if err != nil {
		return nil, err
	}
	return &WrappedAssetRef{Chain: dest, Address: addr}, nil
}

// PreCheck resolves optimistically: transport errors are logged and
// treated the same as not-found, so a flaky registry query never aborts
// the workflow before it starts. The cost is a possible redundant
// attestation under transient network errors, which the destination
// program deduplicates.
func (r *WrappedAssetResolver) PreCheck(ctx context.Context, network Network, source AssetRef, dest ChainID) *WrappedAssetRef {
	wrapped, err := r.Resolve(ctx, network, source, dest)
	if err != nil {
		if !errors.Is(err, ErrNoWrappedAsset) {
			r.logger.Warnw("Wrapped asset pre-check failed; proceeding as not found",
				"sourceAsset", source.String(),
				"destChain", dest,
				"error", err,
			)
		}
		return nil
	}
	return wrapped
}

// AwaitWrapped polls the registry after a successful submission until
// the wrapped asset becomes queryable. Registry indexing can lag the
// transaction itself, so "not yet found" and transport errors both just
// consume the bounded budget. Exhaustion surfaces as
// ErrConfirmationTimeout even though the submission landed.
func (r *WrappedAssetResolver) AwaitWrapped(ctx context.Context, network Network, source AssetRef, dest ChainID, policy RetryPolicy, clock Clock) (*WrappedAssetRef, int, error) {
	var wrapped *WrappedAssetRef

	out, err := policy.Run(ctx, clock, func(ctx context.Context) (bool, error) {
		w, err := r.Resolve(ctx, network, source, dest)
		if err != nil {
			if errors.Is(err, ErrNoWrappedAsset) {
				return false, nil
			}
			return false, err
		}
		wrapped = w
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, out.Attempts, ctx.Err()
		}
		r.logger.Warnw("Wrapped asset confirmation exhausted",
			"sourceAsset", source.String(),
			"destChain", dest,
			"attempts", out.Attempts,
			"transportErrors", out.TransportErrors,
		)
		return nil, out.Attempts, fmt.Errorf("%w: %d attempts", ErrConfirmationTimeout, out.Attempts)
	}
	return wrapped, out.Attempts, nil
}
