package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	"github.com/Sube3494/bilidownloader/internal/cookie"
	"github.com/Sube3494/bilidownloader/internal/metadata"
	"github.com/Sube3494/bilidownloader/internal/naming"
	"github.com/Sube3494/bilidownloader/internal/settings"
)

// Command is a dispatch target.
type Command string

const (
	CmdAcquire    Command = "acquire"
	CmdSet        Command = "set"
	CmdConfig     Command = "config"
	CmdCookie     Command = "cookie"
	CmdTestCookie Command = "test-cookie"
	CmdNaming     Command = "naming"
	CmdHelp       Command = "help"
)

var commandNames = map[string]Command{
	"bili": CmdAcquire, "bilibili": CmdAcquire, "b站": CmdAcquire, "B站": CmdAcquire,

	"bili-set": CmdSet, "bilibili-set": CmdSet, "b站设置": CmdSet, "B站设置": CmdSet,

	"bili-config": CmdConfig, "bilibili-config": CmdConfig, "b站配置": CmdConfig, "B站配置": CmdConfig,

	"bili-cookie": CmdCookie, "bilibili-cookie": CmdCookie, "b站cookie": CmdCookie, "B站cookie": CmdCookie,

	"bili-test-cookie": CmdTestCookie, "bilibili-test-cookie": CmdTestCookie,
	"b站测试cookie": CmdTestCookie, "B站测试cookie": CmdTestCookie, "测试cookie": CmdTestCookie,

	"bili-naming": CmdNaming, "bilibili-naming": CmdNaming, "b站命名": CmdNaming, "B站命名": CmdNaming,

	"bili-help": CmdHelp, "bilibili-help": CmdHelp, "b站帮助": CmdHelp, "B站帮助": CmdHelp, "bili帮助": CmdHelp,
}

// ParseCommand splits "/bili-set quality 1080P" into the command and the
// remaining text. ok is false for anything that is not a bot command.
func ParseCommand(text string) (cmd Command, rest string, ok bool) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	name := text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		name, rest = text[:i], text[i:]
	}
	cmd, ok = commandNames[name]
	return cmd, strings.TrimSpace(rest), ok
}

const usageText = `📚 B站视频下载器

用法: /bili <视频URL>

示例:
/bili https://www.bilibili.com/video/BV1qt4y1X7TW
/bili https://b23.tv/uKe83H7
/bili BV1qt4y1X7TW
/bili 【标题-哔哩哔哩】 https://b23.tv/xxx

💡 提示:
- 支持B站视频链接、短链（b23.tv）和BV号
- 支持直接粘贴移动端分享的内容
- 如果视频有多个分P，会提示选择下载
- 使用 /bili-help 查看完整帮助`

const helpText = `📚 B站视频下载器 - 命令帮助

【下载相关】
/bili <视频URL>
  下载B站视频
  示例: /bili https://www.bilibili.com/video/BV1qt4y1X7TW
  示例: /bili https://b23.tv/uKe83H7
  示例: /bili BV1qt4y1X7TW
  示例: /bili 【标题-哔哩哔哩】 https://b23.tv/xxx
  支持完整链接、短链（b23.tv）、BV号和移动端分享格式
  别名: /bilibili, /b站, /B站

【配置相关】
/bili-set <配置项> <值>
  设置配置
  配置项: bbdown_path, download_path, classify_by_owner, quality, danmaku, subtitle, single_pattern, multi_pattern
  示例: /bili-set download_path ./videos
  示例: /bili-set quality 1080P
  别名: /bilibili-set, /b站设置, /B站设置

/bili-config
  查看当前配置
  别名: /bilibili-config, /b站配置, /B站配置

【Cookie相关】
/bili-cookie <cookie字符串>
  设置B站Cookie
  支持多种格式：浏览器格式、Netscape格式、JSON格式、纯文本格式
  示例: /bili-cookie SESSDATA=xxx; DedeUserID=xxx
  别名: /bilibili-cookie, /b站cookie, /B站cookie

/bili-test-cookie [cookie字符串]
  测试Cookie是否有效
  不提供参数则测试当前配置的Cookie
  别名: /bilibili-test-cookie, /b站测试cookie, /B站测试cookie, /测试cookie

【命名格式相关】
/bili-naming
  查看文件命名格式可用参数
  别名: /bilibili-naming, /b站命名, /B站命名

【帮助】
/bili-help
  显示此帮助信息
  别名: /bilibili-help, /b站帮助, /B站帮助, /bili帮助

💡 提示：
- 使用 /bili-set 查看详细的配置项说明
- 使用 /bili-naming 查看命名格式参数列表
- 也可以在Web面板中进行设置`

func setHelpText() string {
	var b strings.Builder
	b.WriteString("📝 设置配置\n\n用法: /bili-set <配置项> <值>\n\n可用配置项：\n")
	for _, k := range settings.Keys {
		fmt.Fprintf(&b, "• %s - %s\n", k.Name, k.Description)
	}
	b.WriteString("\n示例：\n")
	b.WriteString("/bili-set download_path ./videos\n")
	b.WriteString("/bili-set quality 1080P\n")
	b.WriteString("/bili-set danmaku true\n")
	b.WriteString("/bili-set single_pattern <视频标题>[<清晰度>]\n")
	b.WriteString("\n💡 提示：也可以使用Web面板进行设置")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "是"
	}
	return "否"
}

func setResultText(c settings.Change) string {
	switch c.Key.Name {
	case "bbdown_path":
		return fmt.Sprintf("✅ BBDown路径已设置为: %v", c.Value)
	case "download_path":
		return fmt.Sprintf("✅ 下载路径已设置为: %v", c.Value)
	case "classify_by_owner":
		return "✅ 按UP主分类已设置为: " + yesNo(c.Value.(bool))
	case "quality":
		q, _ := c.Value.(string)
		if q == "" {
			q = "自动选择"
		}
		return "✅ 默认清晰度已设置为: " + q
	case "danmaku":
		return "✅ 下载弹幕已设置为: " + yesNo(c.Value.(bool))
	case "subtitle":
		return "✅ 下载字幕已设置为: " + yesNo(c.Value.(bool))
	case "single_pattern":
		return fmt.Sprintf("✅ 单个视频命名格式已设置为:\n%v", c.Value)
	case "multi_pattern":
		return fmt.Sprintf("✅ 分P视频命名格式已设置为:\n%v", c.Value)
	default:
		return fmt.Sprintf("✅ %s 已设置为: %v", c.Key.Name, c.Value)
	}
}

func setErrorText(key, value string, err error) string {
	switch {
	case errors.Is(err, settings.ErrUnknownKey):
		return fmt.Sprintf("❌ 未知的配置项: %s\n使用 /bili-set 查看可用配置项", key)
	case key == "quality" && errors.Is(err, settings.ErrInvalidValue):
		var valid []string
		for _, q := range config.ValidQualities {
			if q != "" {
				valid = append(valid, q)
			}
		}
		return fmt.Sprintf("❌ 无效的清晰度值: %s\n可选值: %s 或留空（自动选择）", value, strings.Join(valid, ", "))
	default:
		return "❌ 设置失败: " + err.Error()
	}
}

func configText(cfg *config.Config) string {
	v := settings.NewView(cfg)
	cookieState := "未设置"
	if v.CookieSet {
		cookieState = "已设置"
	}
	quality := v.Quality
	if quality == "" {
		quality = "自动选择"
	}
	return fmt.Sprintf(`当前配置：
下载路径: %s
BBDown路径: %s
Cookie: %s
按UP主分类: %s
默认清晰度: %s
下载弹幕: %s
下载字幕: %s

文件命名格式：
单个视频: %s
分P视频: %s

💡 提示：可在Web面板中修改这些设置`,
		v.DownloadPath, v.ExecutablePath, cookieState, yesNo(v.ClassifyByOwner), quality,
		yesNo(v.DownloadDanmaku), yesNo(v.DownloadSubtitle), v.SinglePattern, v.MultiPattern)
}

func namingText() string {
	var b strings.Builder
	b.WriteString("📝 文件命名格式可用参数（直接使用中文参数名即可）\n\n【单个视频可用参数】\n")
	for _, t := range naming.Tokens {
		if !t.Multi {
			fmt.Fprintf(&b, "%-14s - %s\n", t.Localized, t.Description)
		}
	}
	b.WriteString("\n【分P视频额外参数】\n")
	for _, t := range naming.Tokens {
		if t.Multi {
			fmt.Fprintf(&b, "%-14s - %s\n", t.Localized, t.Description)
		}
	}
	b.WriteString(`
📌 使用示例：

【单个视频】
格式：<视频标题>[<清晰度>]
结果：我的视频标题[1080P].mp4

格式：<UP主名称>-<视频标题>-<清晰度>
结果：张三-我的视频标题-1080P.mp4

【分P视频】
格式：<视频标题>/[P<分P序号补零>]<分P标题>[<清晰度>]
结果：
  我的视频标题/[P01]第一集[1080P].mp4
  我的视频标题/[P02]第二集[1080P].mp4

💡 提示：
- 直接使用中文参数名，系统会自动转换
- 英文参数名（如 <videoTitle>）同样可用
- 参数名需要用尖括号 <> 包裹`)
	return b.String()
}

const cookieUsageText = "请提供Cookie\n用法: /bili-cookie <cookie字符串>\n支持多种格式，程序会自动识别"

const testCookieUsageText = "请提供要测试的Cookie\n用法: /bili-test-cookie <cookie字符串>\n或者先设置Cookie后使用: /bili-test-cookie"

func cookieSetText(normalized string) string {
	return "Cookie 设置成功！\n已解析格式: " + cookie.Mask(normalized)
}

func testCookieOK(a metadata.Account) string {
	return fmt.Sprintf(`✅ Cookie测试成功！

👤 用户信息：
用户名: %s
用户ID: %d
等级: LV%d
会员状态: %s

💡 提示：此Cookie可以正常使用`, a.Name, a.Mid, a.Level.Current, a.VipText())
}

// cookieCheckText renders a cookie check error for chat.
func cookieCheckText(err error) string {
	var (
		rejected *metadata.RejectedError
		status   *metadata.StatusError
	)
	switch {
	case errors.Is(err, metadata.ErrCookieMissing):
		return "Cookie格式错误，无法解析"
	case errors.As(err, &rejected):
		switch {
		case rejected.Code == 0:
			return "Cookie无效: 未获取到用户信息"
		case rejected.Message == "":
			return "Cookie无效: 未知错误"
		default:
			return "Cookie无效: " + rejected.Message
		}
	case errors.As(err, &status):
		return fmt.Sprintf("请求失败，状态码: %d", status.Code)
	case errors.Is(err, metadata.ErrAccountResponse):
		return "响应解析失败"
	case errors.Is(err, metadata.ErrAccountRequest):
		return "请求失败，请检查网络连接"
	default:
		return err.Error()
	}
}

func testCookieFailed(err error) string {
	return fmt.Sprintf(`❌ Cookie测试失败

%s

💡 提示：
1. 请检查Cookie是否已过期
2. 请确认Cookie格式是否正确
3. 可以重新从浏览器复制Cookie`, cookieCheckText(err))
}
