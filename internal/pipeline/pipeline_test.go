package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sube3494/bilidownloader/internal/classify"
	"github.com/Sube3494/bilidownloader/internal/command"
	"github.com/Sube3494/bilidownloader/internal/executor"
	"github.com/Sube3494/bilidownloader/internal/linker"
	"github.com/Sube3494/bilidownloader/internal/metadata"
	"github.com/Sube3494/bilidownloader/internal/resolver"
	"github.com/Sube3494/bilidownloader/internal/selection"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeResolver struct {
	ref resolver.Reference
	err error
}

func (f fakeResolver) Resolve(context.Context, string) (resolver.Reference, error) {
	return f.ref, f.err
}

type fakeMetadata struct {
	video metadata.Video
	err   error
}

func (f fakeMetadata) Fetch(context.Context, resolver.Reference) (metadata.Video, error) {
	return f.video, f.err
}

type fakeExecutor struct {
	result executor.Result
	args   []string
}

func (f *fakeExecutor) Run(_ context.Context, args []string) executor.Result {
	f.args = args
	return f.result
}

type fakeLinks struct {
	title string
	parts []string
	files []linker.ResolvedFile
}

func (f *fakeLinks) Resolve(_ context.Context, title string, parts []string) []linker.ResolvedFile {
	f.title = title
	f.parts = parts
	return f.files
}

type chat struct {
	mu      sync.Mutex
	sent    []string
	reply   string
	replies bool
}

func (c *chat) Notify(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *chat) Prompt(ctx context.Context, text string) error {
	return c.Notify(ctx, text)
}

func (c *chat) Wait(ctx context.Context) (string, error) {
	if c.replies {
		return c.reply, nil
	}
	<-ctx.Done()
	return "", ctx.Err()
}

type stageLog struct {
	mu     sync.Mutex
	stages []Stage
}

func (s *stageLog) Report(_ context.Context, _ *Request, stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
}

func threeParts() metadata.Video {
	return metadata.Video{
		Title: "Series",
		Parts: []metadata.Part{
			{Index: 1, Title: "one"},
			{Index: 2, Title: "two"},
			{Index: 3, Title: "three"},
		},
	}
}

func newPipeline(t *testing.T, video metadata.Video, exec *fakeExecutor, links LinkResolver, reporter Reporter) *Pipeline {
	t.Helper()
	return New(Deps{
		Resolver:   fakeResolver{ref: resolver.Reference{ID: "BV1xx411c7mD", URL: "https://www.bilibili.com/video/BV1xx411c7mD"}},
		Metadata:   fakeMetadata{video: video},
		Selector:   selection.NewSelector(50*time.Millisecond, quietLogger()),
		Builder:    command.NewBuilder(),
		Executor:   exec,
		Classifier: classify.New(classify.DefaultVocabulary()),
		Links:      links,
		Reporter:   reporter,
		Options:    command.Options{ExecutablePath: "BBDown", DownloadPath: t.TempDir()},
		Log:        quietLogger(),
	})
}

func hasArg(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

func TestRun_SinglePart(t *testing.T) {
	exec := &fakeExecutor{result: executor.Result{ExitCode: 0, Stdout: "saved to ./Demo.mp4"}}
	stages := &stageLog{}
	p := newPipeline(t, metadata.Video{Title: "Demo", Parts: []metadata.Part{{Index: 1, Title: "Demo"}}}, exec, nil, stages)
	c := &chat{}

	req := p.Run(context.Background(), "BV1xx411c7mD", Interaction{Notifier: c, Prompter: c, Waiter: c})

	require.NoError(t, req.Err)
	assert.True(t, req.Verdict.Success)
	_, ok := hasArg(exec.args, "-p")
	assert.False(t, ok)
	assert.Equal(t, "Demo", req.Title())
	assert.Equal(t, selection.ReasonSkipped, req.Reason)
	assert.Equal(t, "✅ 下载完成！\n"+rule+"\n📹 Demo", req.Message)
	assert.Equal(t, []string{"正在获取视频信息...", "开始下载，请稍候..."}, c.sent)
	assert.Equal(t, StageDone, stages.stages[len(stages.stages)-1])
	assert.NotContains(t, stages.stages, StageSelect)
	assert.NotEmpty(t, req.ID)
}

func TestRun_MultiPartReply(t *testing.T) {
	exec := &fakeExecutor{result: executor.Result{ExitCode: 0, Stdout: "P1: [1] [one] [01:00]\nP3: [3] [three] [02:00]\n任务完成"}}
	links := &fakeLinks{files: []linker.ResolvedFile{{Name: "a.mp4", DirectLink: "https://d/a.mp4"}}}
	p := newPipeline(t, threeParts(), exec, links, nil)
	c := &chat{reply: "1,3", replies: true}

	req := p.Run(context.Background(), "https://www.bilibili.com/video/BV1xx411c7mD", Interaction{Notifier: c, Prompter: c, Waiter: c})

	require.NoError(t, req.Err)
	spec, ok := hasArg(exec.args, "-p")
	require.True(t, ok)
	assert.Equal(t, "1,3", spec)
	assert.Equal(t, selection.ReasonInput, req.Reason)
	assert.Equal(t, "Series", links.title)
	assert.Equal(t, []string{"one", "three"}, links.parts)
	assert.Contains(t, req.Message, "📌 已下载分P：\n   • P1: one\n   • P3: three")
	assert.True(t, strings.HasSuffix(req.Message, "📥 下载链接\n"+rule+"\n🔗 https://d/a.mp4"))
}

func TestRun_SelectionTimeout(t *testing.T) {
	exec := &fakeExecutor{result: executor.Result{ExitCode: 0, Stdout: "下载完成"}}
	p := newPipeline(t, threeParts(), exec, nil, nil)
	c := &chat{}

	req := p.Run(context.Background(), "BV1xx411c7mD", Interaction{Notifier: c, Prompter: c, Waiter: c})

	require.NoError(t, req.Err)
	assert.True(t, req.Selection.IsAll())
	assert.Equal(t, selection.ReasonTimeout, req.Reason)
	_, ok := hasArg(exec.args, "-p")
	assert.False(t, ok)
	assert.Contains(t, req.Message, "📌 分P列表：")
}

func TestRun_Unavailable(t *testing.T) {
	exec := &fakeExecutor{result: executor.Result{ExitCode: 1, Stderr: "视频不存在"}}
	stages := &stageLog{}
	p := newPipeline(t, metadata.Video{Title: "Gone", Parts: []metadata.Part{{Index: 1}}}, exec, nil, stages)

	req := p.Run(context.Background(), "BV1xx411c7mD", Interaction{})

	require.Error(t, req.Err)
	assert.Equal(t, classify.ReasonVideoUnavailable, req.Verdict.Reason)
	assert.True(t, strings.HasPrefix(req.Message, "❌ 下载失败 (返回码: 1)\n\n⚠️ 视频不存在或已被删除"))
	assert.NotContains(t, req.Message, exec.result.Stderr+"\n")
	assert.Equal(t, StageFailed, stages.stages[len(stages.stages)-1])
}

func TestRun_PresetSelection(t *testing.T) {
	exec := &fakeExecutor{result: executor.Result{ExitCode: 0}}
	p := newPipeline(t, threeParts(), exec, nil, nil)
	sel := selection.Parse("2", 3)

	req := p.Run(context.Background(), "BV1xx411c7mD", Interaction{Preset: &sel})

	spec, ok := hasArg(exec.args, "-p")
	require.True(t, ok)
	assert.Equal(t, "2", spec)
	assert.Equal(t, selection.ReasonInput, req.Reason)
}

func TestRun_MetadataFailureDelegates(t *testing.T) {
	exec := &fakeExecutor{result: executor.Result{ExitCode: 0, Stdout: "视频标题: Remote\n任务完成"}}
	p := New(Deps{
		Resolver:   fakeResolver{ref: resolver.Reference{ID: "BV1xx411c7mD"}},
		Metadata:   fakeMetadata{err: metadata.ErrFetch},
		Selector:   selection.NewSelector(time.Second, quietLogger()),
		Builder:    command.NewBuilder(),
		Executor:   exec,
		Classifier: classify.New(classify.DefaultVocabulary()),
		Options:    command.Options{DownloadPath: t.TempDir()},
		Log:        quietLogger(),
	})

	req := p.Run(context.Background(), "BV1xx411c7mD", Interaction{})
	require.NoError(t, req.Err)
	assert.False(t, req.HasVideo)
	assert.Equal(t, "✅ 下载完成！\n"+rule+"\n📹 Remote", req.Message)
}

func TestRun_ResolutionFailures(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{resolver.ErrNoReference, "❌ 无法从输入中提取有效的B站视频链接"},
		{resolver.ErrShortLinkUnresolved, "❌ 无法解析B站短链，请使用完整链接或BV号"},
		{resolver.ErrInvalidReference, "无效的B站视频URL"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			exec := &fakeExecutor{}
			p := New(Deps{
				Resolver: fakeResolver{err: tt.err},
				Executor: exec,
				Log:      quietLogger(),
			})
			c := &chat{}
			req := p.Run(context.Background(), "https://b23.tv/abc", Interaction{Notifier: c})
			assert.True(t, errors.Is(req.Err, tt.err))
			assert.True(t, strings.HasPrefix(req.Message, tt.want))
			assert.Nil(t, exec.args)
			assert.Equal(t, []string{"正在解析短链..."}, c.sent)
		})
	}
}

func TestFailureMessage(t *testing.T) {
	msg := FailureMessage(classify.ReasonBinaryNotFound, -1)
	assert.True(t, strings.HasPrefix(msg, "❌ 下载失败 (返回码: -1)\n\n⚠️ BBDown未找到或无法执行"))
	assert.Contains(t, msg, "/bili-set bbdown_path")

	msg = FailureMessage(classify.ReasonAuthInvalid, 0)
	assert.True(t, strings.HasPrefix(msg, "❌ 下载失败\n\n⚠️ Cookie失效或需要登录"))

	assert.Equal(t, FailureMessage(classify.ReasonUnclassified, 2), FailureMessage("weird", 2))
}

func TestSuccessMessage(t *testing.T) {
	req := &Request{Selection: selection.AllParts}
	assert.Equal(t, "下载完成", SuccessMessage(req))

	req.Info = classify.Info{Parts: []classify.PartLine{{Index: 1, Title: "only"}}}
	assert.Equal(t, "✅ 下载完成！\n"+rule+"\n📌 P1: only", SuccessMessage(req))

	req.Files = []linker.ResolvedFile{
		{Name: "a.mp4", DirectLink: "https://d/a"},
		{Name: "b.mp4", DirectLink: "https://d/b", ShortLink: "https://s/b"},
	}
	msg := SuccessMessage(req)
	assert.Contains(t, msg, "【1】a.mp4\n   🔗 https://d/a\n【2】b.mp4\n   🔗 https://s/b")
}
