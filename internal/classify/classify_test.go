package classify

import (
	"testing"

	"github.com/Sube3494/bilidownloader/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		res     executor.Result
		success bool
		reason  Reason
	}{
		{
			name:    "exit zero wins over error text",
			res:     executor.Result{ExitCode: 0, Stdout: "error: something odd\n无法合并"},
			success: true,
			reason:  ReasonSuccess,
		},
		{
			name:    "exit zero with saved line",
			res:     executor.Result{ExitCode: 0, Stdout: "saved to ./Demo.mp4"},
			success: true,
			reason:  ReasonSuccess,
		},
		{
			name:    "file path without error keyword",
			res:     executor.Result{ExitCode: 1, Stdout: "保存至 ./downloads/Demo.mp4"},
			success: true,
			reason:  ReasonSuccess,
		},
		{
			name:    "indicator and completion",
			res:     executor.Result{ExitCode: 2, Stdout: "获取视频信息...\n下载完成"},
			success: true,
			reason:  ReasonSuccess,
		},
		{
			name:   "binary missing",
			res:    executor.Result{ExitCode: executor.ExitBinaryMissing, Stderr: "找不到BBDown可执行文件: BBDown"},
			reason: ReasonBinaryNotFound,
		},
		{
			name:   "shell command not found",
			res:    executor.Result{ExitCode: 127, Stderr: "sh: BBDown: Command Not Found"},
			reason: ReasonBinaryNotFound,
		},
		{
			name:   "nonzero without video info",
			res:    executor.Result{ExitCode: 1, Stderr: "video not found"},
			reason: ReasonVideoUnavailable,
		},
		{
			name:   "unavailable phrase with video info",
			res:    executor.Result{ExitCode: 1, Stdout: "aid: 1\ncid: 2\n视频已下架"},
			reason: ReasonVideoUnavailable,
		},
		{
			name:   "auth invalid",
			res:    executor.Result{ExitCode: 1, Stdout: "aid: 123\ncid: 456\n视频标题: X\n未登录, 无法下载"},
			reason: ReasonAuthInvalid,
		},
		{
			name:   "unclassified",
			res:    executor.Result{ExitCode: 1, Stdout: "aid: 1\ncid: 2\nerror: merge step"},
			reason: ReasonUnclassified,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Classify(tt.res)
			assert.Equal(t, tt.success, v.Success)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestClassify_ExitZeroAlwaysSuccess(t *testing.T) {
	outputs := []string{"", "error: x", "failed to mux", "视频不存在", "not found", "未登录"}
	for _, out := range outputs {
		v := Classify(executor.Result{ExitCode: 0, Stdout: out, Stderr: out})
		assert.True(t, v.Success, "output %q", out)
	}
}

func TestClassify_NoMarkersNonzeroIsUnavailable(t *testing.T) {
	for _, out := range []string{"", "something happened", "timeout"} {
		v := Classify(executor.Result{ExitCode: 1, Stdout: out})
		assert.False(t, v.Success)
		assert.Equal(t, ReasonVideoUnavailable, v.Reason, "output %q", out)
	}
}

func TestCustomVocabulary(t *testing.T) {
	vocab := DefaultVocabulary()
	vocab.Unavailable = append(vocab.Unavailable, "地区限制")
	c := New(vocab)

	v := c.Classify(executor.Result{ExitCode: 1, Stdout: "aid: 1\ncid: 2\n地区限制"})
	assert.Equal(t, ReasonVideoUnavailable, v.Reason)
	assert.Equal(t, VocabularyVersion, c.Vocabulary().Version)
}

func TestExtractInfo(t *testing.T) {
	res := executor.Result{
		ExitCode: 0,
		Stdout: "BBDown version 1.6.3\n" +
			"获取aid结束: 123\n" +
			"视频标题: 演示视频\n" +
			"视频标题: ignored second\n" +
			"P1: [34047132747] [Mr.Taxi] [01m08s]\n" +
			"P2: [34047132748] [Gee] [03m20s]\n" +
			"P3: [34047132749] [Oh!] [03m08s]\n",
	}
	info := ExtractInfo(res)
	assert.Equal(t, "演示视频", info.Title)
	require.Len(t, info.Parts, 3)
	assert.Equal(t, PartLine{Index: 1, Title: "Mr.Taxi"}, info.Parts[0])
	assert.Equal(t, "P3: Oh!", info.Parts[2].String())
	assert.Equal(t, []string{"Mr.Taxi", "Gee", "Oh!"}, info.PartTitles())
}

func TestExtractInfo_EnglishLabel(t *testing.T) {
	info := ExtractInfo(executor.Result{Stdout: "Title: Demo\nsaved to ./Demo.mp4"})
	assert.Equal(t, "Demo", info.Title)
	assert.Empty(t, info.Parts)

	info = ExtractInfo(executor.Result{Stdout: "saved to ./Demo.mp4"})
	assert.Empty(t, info.Title)
}
