// Package pipeline runs one video acquisition request through every stage,
// from reference resolution to link generation.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Sube3494/bilidownloader/internal/classify"
	"github.com/Sube3494/bilidownloader/internal/command"
	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/executor"
	"github.com/Sube3494/bilidownloader/internal/linker"
	"github.com/Sube3494/bilidownloader/internal/metadata"
	"github.com/Sube3494/bilidownloader/internal/resolver"
	"github.com/Sube3494/bilidownloader/internal/selection"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Stage names reported while a request runs.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageMetadata Stage = "metadata"
	StageSelect   Stage = "select"
	StageBuild    Stage = "build"
	StageExecute  Stage = "execute"
	StageClassify Stage = "classify"
	StageLink     Stage = "link"
	StageDone     Stage = "done"
	StageFailed   Stage = "failed"
)

// Stage contracts.
type (
	ReferenceResolver interface {
		Resolve(ctx context.Context, text string) (resolver.Reference, error)
	}
	MetadataFetcher interface {
		Fetch(ctx context.Context, ref resolver.Reference) (metadata.Video, error)
	}
	PartSelector interface {
		Select(ctx context.Context, video metadata.Video, prompter selection.Prompter, waiter selection.Waiter) selection.Outcome
	}
	CommandBuilder interface {
		Build(ref resolver.Reference, opts command.Options, sel selection.Selection) ([]string, error)
	}
	Executor interface {
		Run(ctx context.Context, args []string) executor.Result
	}
	Classifier interface {
		Classify(res executor.Result) classify.Verdict
	}
	LinkResolver interface {
		Resolve(ctx context.Context, title string, partTitles []string) []linker.ResolvedFile
	}
)

// Notifier sends short progress messages to the requester.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Reporter receives stage transitions, e.g. for the live log panel.
type Reporter interface {
	Report(ctx context.Context, req *Request, stage Stage)
}

// Interaction is how a request talks back to its requester. Any field may be
// nil. Preset skips the interactive part prompt.
type Interaction struct {
	Notifier Notifier
	Prompter selection.Prompter
	Waiter   selection.Waiter
	Preset   *selection.Selection
}

// Request carries everything one acquisition learns, stage by stage.
type Request struct {
	ID        string
	Text      string
	Reference resolver.Reference
	Video     metadata.Video
	HasVideo  bool
	Selection selection.Selection
	Reason    string
	Args      []string
	Result    executor.Result
	Verdict   classify.Verdict
	Info      classify.Info
	Files     []linker.ResolvedFile
	Err       error
	Message   string
	Started   time.Time
	Finished  time.Time
}

// Title is the best known title: printed by the downloader, else from the
// metadata API.
func (r *Request) Title() string {
	if r.Info.Title != "" {
		return r.Info.Title
	}
	return r.Video.Title
}

// SelectedPartTitles returns part titles within the selection, preferring the
// part lines the downloader printed.
func (r *Request) SelectedPartTitles() []string {
	var out []string
	if len(r.Info.Parts) > 0 {
		for _, p := range r.Info.Parts {
			if r.Selection.Contains(p.Index) {
				out = append(out, p.Title)
			}
		}
		return out
	}
	for _, p := range r.Video.Parts {
		if r.Selection.Contains(p.Index) {
			out = append(out, p.Title)
		}
	}
	return out
}

// Deps are the stage implementations. Links and Reporter may be nil.
type Deps struct {
	Resolver   ReferenceResolver
	Metadata   MetadataFetcher
	Selector   PartSelector
	Builder    CommandBuilder
	Executor   Executor
	Classifier Classifier
	Links      LinkResolver
	Reporter   Reporter
	Options    command.Options
	Log        *logrus.Logger
}

type Pipeline struct {
	d Deps
}

func New(d Deps) *Pipeline {
	return &Pipeline{d: d}
}

// FromConfig wires the production stages for a config snapshot.
func FromConfig(cfg *config.Config, reporter Reporter, log *logrus.Logger) *Pipeline {
	d := Deps{
		Resolver:   resolver.New(cfg.Bilibili.UserAgent, cfg.Bilibili.Referer, log),
		Metadata:   metadata.NewClient(&cfg.Bilibili, log),
		Selector:   selection.NewSelector(cfg.Bot.SelectionTimeout, log),
		Builder:    command.NewBuilder(),
		Executor:   executor.NewRunner(log),
		Classifier: classify.New(classify.DefaultVocabulary()),
		Reporter:   reporter,
		Options:    command.OptionsFromConfig(&cfg.Downloader),
		Log:        log,
	}
	if links := linker.FromConfig(cfg, log); links != nil {
		d.Links = links
	}
	return New(d)
}

func (p *Pipeline) report(ctx context.Context, req *Request, stage Stage) {
	if p.d.Reporter != nil {
		p.d.Reporter.Report(ctx, req, stage)
	}
}

func (p *Pipeline) notify(ctx context.Context, in Interaction, text string) {
	if in.Notifier == nil {
		return
	}
	if err := in.Notifier.Notify(ctx, text); err != nil {
		p.d.Log.WithFields(logrus.Fields{"component": "pipeline"}).WithError(err).Warn("Failed to send progress message")
	}
}

func (p *Pipeline) fail(ctx context.Context, req *Request, err error, message string) *Request {
	req.Err = err
	req.Message = message
	req.Finished = time.Now()
	p.report(ctx, req, StageFailed)
	return req
}

// Run processes text end to end. It always returns a Request whose Message
// is ready to send.
func (p *Pipeline) Run(ctx context.Context, text string, in Interaction) *Request {
	req := &Request{
		ID:        uuid.NewString(),
		Text:      text,
		Selection: selection.AllParts,
		Started:   time.Now(),
	}
	entry := p.d.Log.WithFields(logrus.Fields{
		"component":  "pipeline",
		"request_id": req.ID,
	})

	// Stage 1
	p.report(ctx, req, StageResolve)
	if raw, err := resolver.Extract(text); err == nil && strings.Contains(raw, "b23.tv") {
		p.notify(ctx, in, "正在解析短链...")
	}
	ref, err := p.d.Resolver.Resolve(ctx, text)
	if err != nil {
		entry.WithError(err).Info("Failed to resolve reference")
		return p.fail(ctx, req, err, ResolutionMessage(err))
	}
	req.Reference = ref
	entry = entry.WithField("bvid", ref.ID)

	// Stage 2
	p.report(ctx, req, StageMetadata)
	p.notify(ctx, in, "正在获取视频信息...")
	video, err := p.d.Metadata.Fetch(ctx, ref)
	if err != nil {
		entry.WithError(err).Warn("Metadata unavailable, delegating to the downloader")
	} else {
		req.Video = video
		req.HasVideo = true
	}

	// Stage 3
	switch {
	case in.Preset != nil:
		req.Selection = *in.Preset
		req.Reason = selection.ReasonInput
	case req.HasVideo && video.Multi() && in.Prompter != nil && in.Waiter != nil:
		p.report(ctx, req, StageSelect)
		out := p.d.Selector.Select(ctx, video, in.Prompter, in.Waiter)
		req.Selection = out.Selection
		req.Reason = out.Reason
	default:
		req.Reason = selection.ReasonSkipped
	}

	// Stage 4
	p.report(ctx, req, StageBuild)
	p.notify(ctx, in, "开始下载，请稍候...")
	args, err := p.d.Builder.Build(ref, p.d.Options, req.Selection)
	if err != nil {
		entry.WithError(err).Error("Failed to build downloader command")
		return p.fail(ctx, req, err, FailureMessage(classify.ReasonUnclassified, executor.ExitBinaryMissing))
	}
	req.Args = args

	// Stage 5
	p.report(ctx, req, StageExecute)
	req.Result = p.d.Executor.Run(ctx, args)

	// Stage 6
	req.Verdict = p.d.Classifier.Classify(req.Result)
	req.Info = classify.ExtractInfo(req.Result)
	p.report(ctx, req, StageClassify)

	entry.WithFields(logrus.Fields{
		"exit_code": req.Result.ExitCode,
		"success":   req.Verdict.Success,
		"reason":    req.Verdict.Reason,
		"signals":   req.Verdict.Signals,
	}).Info("Classified downloader output")

	if !req.Verdict.Success {
		return p.fail(ctx, req, errors.New(string(req.Verdict.Reason)), FailureMessage(req.Verdict.Reason, req.Result.ExitCode))
	}

	// Stage 7
	if p.d.Links != nil {
		p.report(ctx, req, StageLink)
		req.Files = p.d.Links.Resolve(ctx, req.Title(), req.SelectedPartTitles())
		if len(req.Files) == 0 {
			entry.Warn("No download links generated")
		}
	}

	req.Message = SuccessMessage(req)
	req.Finished = time.Now()
	p.report(ctx, req, StageDone)
	return req
}
