package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/runner/internal/metrics"
	"github.com/orcabay/control-plane/runner/internal/state"
	"github.com/orcabay/control-plane/shared/wire"
)

// heartbeatLoop checkpoints local state and pushes a run-state upsert with
// a resource snapshot every HeartbeatPeriod, until ctx is cancelled (§4.7,
// §5 "heartbeat interval").
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	period := time.Duration(s.cfg.HeartbeatPeriod) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeatOnce(ctx)
		}
	}
}

func (s *Supervisor) heartbeatOnce(ctx context.Context) {
	snap := s.snapshot()
	if err := state.Save(s.runDir, snap); err != nil {
		s.logger.Warn("failed to checkpoint local state", zap.Error(err))
	}

	res := metrics.Collect(ctx, s.cfg.DataDir)

	workingDir := snap.WorkingDir
	seq := snap.LastSequence
	req := wire.UpsertRunStateRequest{
		WorkingDir:   &workingDir,
		LastSequence: &seq,
		Heartbeat: &wire.HeartbeatRequest{
			AgentID:     s.api.AgentID(),
			CPUPercent:  res.CPUPercent,
			MemPercent:  res.MemPercent,
			DiskPercent: res.DiskPercent,
		},
	}
	if err := s.api.UpsertState(ctx, req); err != nil {
		s.logger.Warn("heartbeat upsert failed", zap.Error(err))
	}
}
