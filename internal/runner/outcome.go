package runner

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// Attempt identifies a transaction accepted by the node.
type Attempt struct {
	Hash        common.Hash
	From        common.Address
	Nonce       uint64
	GasLimit    uint64
	Kind        types.TxKind
	SubmittedAt time.Time
}

// Failure is a classified per-transaction error.
type Failure struct {
	Kind    types.FailureKind
	Message string
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// NewFailure classifies err as kind.
func NewFailure(kind types.FailureKind, err error) *Failure {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Failure{Kind: kind, Message: msg}
}

// Outcome is the resolved result of one submission. Exactly one of
// Measurement and Failure is set. Attempt is nil when the transaction
// never reached the node.
type Outcome struct {
	Index       int
	Kind        types.TxKind
	Attempt     *Attempt
	Measurement *types.Measurement
	Failure     *Failure
}

// Succeeded reports whether the transaction confirmed successfully.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil && o.Measurement != nil
}

// Failed returns a failure outcome.
func Failed(index int, kind types.TxKind, attempt *Attempt, f *Failure) Outcome {
	return Outcome{Index: index, Kind: kind, Attempt: attempt, Failure: f}
}

// Confirmed returns a success outcome.
func Confirmed(index int, kind types.TxKind, attempt *Attempt, m types.Measurement) Outcome {
	return Outcome{Index: index, Kind: kind, Attempt: attempt, Measurement: &m}
}
