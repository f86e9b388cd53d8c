// Package fsm implements the image staging workflow. Staging checks an image
// ahead of a maintenance window: it decodes the header, bounds-checks it,
// verifies the digest and records the result in the ledger, without touching
// any device. It runs on the superfly/fsm library.
package fsm

import (
	"context"

	"github.com/superfly/fsm"
	"github.com/zrouter/upgrade/pkg/errors"
)

// Register registers the staging FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[StageRequest, StageResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[StageRequest, StageResponse](manager, "image-stage").
		Start(StateCheckLedger, m.handleCheckLedger).
		To(StateInspect, m.handleInspect).
		To(StateVerify, m.handleVerify).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
