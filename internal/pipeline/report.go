package pipeline

import (
	"context"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/common/messaging"
	"github.com/Sube3494/bilidownloader/pkg/models"
	"github.com/sirupsen/logrus"
)

// BusReporter publishes stage transitions to the log exchange.
type BusReporter struct {
	publisher messaging.Publisher
	exchange  string
	log       *logrus.Logger
}

func NewBusReporter(publisher messaging.Publisher, exchange string, log *logrus.Logger) *BusReporter {
	return &BusReporter{publisher: publisher, exchange: exchange, log: log}
}

func (r *BusReporter) Report(_ context.Context, req *Request, stage Stage) {
	if err := r.publisher.PublishJSON(r.exchange, config.RoutingPipelineLog, LogEntry(req, stage)); err != nil {
		r.log.WithFields(logrus.Fields{
			"component":  "pipeline",
			"request_id": req.ID,
			"stage":      stage,
		}).WithError(err).Warn("Failed to publish pipeline log")
	}
}

// LogEntry summarizes req at stage. It carries no output text or cookie.
func LogEntry(req *Request, stage Stage) models.PipelineLog {
	entry := models.PipelineLog{
		RequestID: req.ID,
		Stage:     string(stage),
		BVID:      req.Reference.ID,
		Title:     req.Title(),
		Timestamp: time.Now(),
	}
	switch stage {
	case StageExecute, StageClassify, StageLink, StageDone, StageFailed:
		entry.Selection = req.Selection.Spec()
	}
	if stage == StageClassify || stage == StageLink || stage == StageDone || (stage == StageFailed && req.Args != nil) {
		code := req.Result.ExitCode
		entry.ExitCode = &code
		entry.Reason = string(req.Verdict.Reason)
	}
	if stage == StageDone {
		entry.Links = len(req.Files)
	}
	if req.Err != nil {
		entry.Error = req.Err.Error()
	}
	return entry
}
