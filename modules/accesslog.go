package modules

import (
	"time"

	"go.uber.org/zap"

	"github.com/declarest/declarest/core"
)

// AccessLog emits one structured line per request during the Log phase. Each
// instance carries its own logger, so a reload with new logging config takes
// effect on the next snapshot. Emission is synchronous: zap's encoder path is
// allocation-light and the Log phase runs after the response is decided, so
// nothing here delays the client.
type AccessLog struct {
	log *zap.Logger
}

func NewAccessLog(log *zap.Logger) *AccessLog {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccessLog{log: log}
}

func (m *AccessLog) Name() string { return "access_log" }

func (m *AccessLog) Phases() []core.Phase { return []core.Phase{core.PhaseLog} }

func (m *AccessLog) Run(_ core.Phase, rc *core.RequestContext, _ *core.App) core.Outcome {
	consumer := ""
	if ident, ok := core.GetExt[core.ConsumerIdentity](rc); ok {
		consumer = ident.Name
	}
	m.log.Info("access",
		zap.Time("ts", rc.StartTime),
		zap.String("client", rc.ClientAddr),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.Int("status", rc.Status),
		zap.Duration("duration", time.Since(rc.StartTime)),
		zap.String("consumer", consumer),
	)
	return core.Continue()
}
