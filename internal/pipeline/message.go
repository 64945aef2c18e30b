package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sube3494/bilidownloader/internal/classify"
	"github.com/Sube3494/bilidownloader/internal/resolver"
)

var rule = strings.Repeat("─", 30)

// ResolutionMessage is the reply for a reference that could not be resolved.
func ResolutionMessage(err error) string {
	switch {
	case errors.Is(err, resolver.ErrNoReference):
		return "❌ 无法从输入中提取有效的B站视频链接\n\n请使用以下格式之一：\n" +
			"- https://www.bilibili.com/video/BV...\n" +
			"- https://b23.tv/...\n" +
			"- BV号"
	case errors.Is(err, resolver.ErrShortLinkUnresolved):
		return "❌ 无法解析B站短链，请使用完整链接或BV号"
	default:
		return "无效的B站视频URL"
	}
}

var failureHints = map[classify.Reason]string{
	classify.ReasonBinaryNotFound: "⚠️ BBDown未找到或无法执行\n\n" +
		"解决方案：\n" +
		"1. 确保BBDown已正确安装\n" +
		"2. 如果BBDown不在PATH中，请使用以下命令设置完整路径：\n" +
		"   /bili-set bbdown_path <BBDown的完整路径>\n" +
		"   例如: /bili-set bbdown_path /usr/local/bin/BBDown\n" +
		"   或: /bili-set bbdown_path /home/user/BBDown/BBDown",
	classify.ReasonVideoUnavailable: "⚠️ 视频不存在或已被删除\n\n" +
		"💡 建议：\n" +
		"- 在浏览器中打开链接确认视频是否可访问\n" +
		"- 如果视频确实存在，可能需要登录，请使用 /bili-test-cookie 检查Cookie状态",
	classify.ReasonAuthInvalid: "⚠️ Cookie失效或需要登录\n\n" +
		"💡 建议：\n" +
		"- 使用 /bili-test-cookie 检查Cookie是否有效\n" +
		"- 如果Cookie失效，请使用 /bili-cookie 重新设置",
	classify.ReasonUnclassified: "⚠️ 下载失败\n\n" +
		"💡 建议：\n" +
		"- 在浏览器中打开链接确认视频是否可访问\n" +
		"- 使用 /bili-test-cookie 检查Cookie状态\n" +
		"- 如果问题持续，请稍后重试",
}

// FailureMessage renders a failed download. Raw downloader output is never
// included.
func FailureMessage(reason classify.Reason, exitCode int) string {
	var b strings.Builder
	b.WriteString("❌ 下载失败")
	if exitCode != 0 {
		fmt.Fprintf(&b, " (返回码: %d)", exitCode)
	}
	b.WriteString("\n\n")
	hint, ok := failureHints[reason]
	if !ok {
		hint = failureHints[classify.ReasonUnclassified]
	}
	b.WriteString(hint)
	return strings.TrimSpace(b.String())
}

// SuccessMessage renders the title, the downloaded parts and any links.
func SuccessMessage(req *Request) string {
	var b strings.Builder
	title := req.Title()

	parts := req.Info.Parts
	if len(parts) == 0 && req.HasVideo && req.Video.Multi() {
		for _, p := range req.Video.Parts {
			parts = append(parts, classify.PartLine{Index: p.Index, Title: p.Title})
		}
	}

	if title != "" || len(parts) > 0 {
		b.WriteString("✅ 下载完成！\n")
		b.WriteString(rule + "\n")
		if title != "" {
			fmt.Fprintf(&b, "📹 %s\n", title)
		}
		writeParts(&b, req, parts)
	} else {
		b.WriteString("下载完成")
	}

	if len(req.Files) > 0 {
		b.WriteString("\n" + rule + "\n📥 下载链接\n" + rule + "\n")
		if len(req.Files) == 1 {
			fmt.Fprintf(&b, "🔗 %s\n", req.Files[0].Link())
		} else {
			for i, f := range req.Files {
				fmt.Fprintf(&b, "【%d】%s\n   🔗 %s\n", i+1, f.Name, f.Link())
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func writeParts(b *strings.Builder, req *Request, parts []classify.PartLine) {
	if len(parts) == 0 {
		return
	}

	var shown []classify.PartLine
	if !req.Selection.IsAll() {
		for _, p := range parts {
			if req.Selection.Contains(p.Index) {
				shown = append(shown, p)
			}
		}
	}

	header := "📌 已下载分P：\n"
	if len(shown) == 0 {
		shown = parts
		header = "📌 分P列表：\n"
	}

	if len(shown) == 1 {
		fmt.Fprintf(b, "📌 %s\n", shown[0])
		return
	}
	b.WriteString(header)
	for _, p := range shown {
		fmt.Fprintf(b, "   • %s\n", p)
	}
}
