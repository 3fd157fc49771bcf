package api

import (
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
)

// Proof waits default to 25 minutes when the request omits timeoutMs.
const defaultTimeoutMs = 1_500_000

type AssetRefDTO struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

type CreateWrappedTokenRequest struct {
	DestinationChain string      `json:"destinationChain"`
	SourceAsset      AssetRefDTO `json:"sourceAsset"`
	Network          string      `json:"network"`
	TimeoutMs        int64       `json:"timeoutMs,omitempty"`
}

type ResumeWrappedTokenRequest struct {
	// MessageID is the retained chain/emitter/sequence id. When empty,
	// the server falls back to the id retained for the pair.
	MessageID        string      `json:"messageId,omitempty"`
	DestinationChain string      `json:"destinationChain"`
	SourceAsset      AssetRefDTO `json:"sourceAsset"`
	Network          string      `json:"network"`
	TimeoutMs        int64       `json:"timeoutMs,omitempty"`
}

type WrappedTokenDTO struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
}

type RunErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type WrappedTokenResponse struct {
	RunID                    string           `json:"runId"`
	Success                  bool             `json:"success"`
	WrappedToken             *WrappedTokenDTO `json:"wrappedToken,omitempty"`
	AttestationTransactionID string           `json:"attestationTransactionId,omitempty"`
	MessageID                string           `json:"messageId,omitempty"`
	Error                    *RunErrorDTO     `json:"error,omitempty"`
}

type RunDTO struct {
	ID                       string `json:"id"`
	Kind                     string `json:"kind"`
	SourceChain              string `json:"sourceChain"`
	SourceAddress            string `json:"sourceAddress"`
	DestinationChain         string `json:"destinationChain"`
	Network                  string `json:"network"`
	State                    string `json:"state"`
	AttestationTransactionID string `json:"attestationTransactionId,omitempty"`
	MessageID                string `json:"messageId,omitempty"`
	WrappedAddress           string `json:"wrappedAddress,omitempty"`
	ErrorKind                string `json:"errorKind,omitempty"`
	CreatedAt                int64  `json:"createdAt"`
	UpdatedAt                int64  `json:"updatedAt"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func runToDTO(rec bridge.RunRecord) RunDTO {
	return RunDTO{
		ID:                       rec.ID,
		Kind:                     rec.Kind,
		SourceChain:              string(rec.SourceChain),
		SourceAddress:            rec.SourceAddress,
		DestinationChain:         string(rec.DestinationChain),
		Network:                  string(rec.Network),
		State:                    string(rec.State),
		AttestationTransactionID: rec.AttestationTxID,
		MessageID:                rec.MessageID,
		WrappedAddress:           rec.WrappedAddress,
		ErrorKind:                rec.ErrorKind,
		CreatedAt:                rec.CreatedAt.Unix(),
		UpdatedAt:                rec.UpdatedAt.Unix(),
	}
}

func resultToResponse(runID string, res *bridge.Result) WrappedTokenResponse {
	out := WrappedTokenResponse{
		RunID:                    runID,
		Success:                  res.Success,
		AttestationTransactionID: res.AttestationTxID,
	}
	if res.WrappedToken != nil {
		out.WrappedToken = &WrappedTokenDTO{
			Chain:   string(res.WrappedToken.Chain),
			Address: res.WrappedToken.Address,
		}
	}
	if res.MessageID != nil {
		out.MessageID = res.MessageID.String()
	}
	if res.Err != nil {
		out.Error = &RunErrorDTO{
			Kind:    res.ErrorKind(),
			Message: res.Err.Error(),
		}
	}
	return out
}

func requestTimeout(timeoutMs int64) time.Duration {
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return time.Duration(timeoutMs) * time.Millisecond
}
