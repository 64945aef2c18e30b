package classify

// VocabularyVersion is bumped whenever a keyword table changes so logs and
// tests can tell which rules produced a verdict.
const VocabularyVersion = 1

// Vocabulary holds every keyword table the classifier consults. Tables marked
// case-sensitive are matched against the raw output; the rest against its
// lower-cased form and must be written in lower case.
type Vocabulary struct {
	Version int

	ErrorKeywords     []string
	SuccessIndicators []string
	// case-sensitive
	FilePathIndicators []string
	BannerIndicators   []string
	CompleteIndicators []string

	// checked against stderr only; the Folded table in lower case
	MissingBinary       []string
	MissingBinaryFolded []string
	// VideoInfo markers; MinVideoInfo of them mean the video was resolved.
	VideoInfo    []string
	MinVideoInfo int
	// case-sensitive
	Unavailable []string
	AuthInvalid []string // lower case
}

// DefaultVocabulary returns the tables tuned against BBDown output.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Version: VocabularyVersion,
		ErrorKeywords: []string{
			"unrecognized command", "unrecognized argument",
			"command not found", "不是内部或外部命令",
			"error:", "failed to", "无法", "不能", "不支持",
		},
		SuccessIndicators: []string{
			"aid:", "cid:",
			"视频:", "视频标题:", "title:",
			"up主", "up主:", "owner", "space.bilibili.com",
			"p1:", "p2:", "p3:", "分p", "page",
			"获取aid", "获取视频", "视频信息",
			"下载", "保存", "saved", "completed", "完成", "成功",
			"version", "bbdown", "bilibili downloader",
		},
		FilePathIndicators: []string{".mp4", ".flv", ".m4s", "保存至", "saved to", "文件"},
		BannerIndicators:   []string{"bbdown version", "bilibili downloader"},
		CompleteIndicators: []string{
			"保存至", "saved to", "文件已保存", "下载完成", "download completed",
			"文件:", "file:", ".mp4", ".flv", ".m4s", ".mkv",
		},
		MissingBinary:       []string{"No such file or directory", "找不到"},
		MissingBinaryFolded: []string{"command not found"},
		VideoInfo:           []string{"aid:", "cid:", "视频标题:", "title:", "up主", "owner", "bvid:"},
		MinVideoInfo:        2,
		Unavailable: []string{
			"视频不存在", "视频已删除", "视频已下架", "视频不可用", "视频无效",
			"not found", "不存在", "无法访问", "访问失败", "获取失败",
			"视频信息获取失败", "获取视频信息失败", "解析失败", "解析错误",
			"invalid video", "invalid url", "无效的视频", "无效的链接",
		},
		AuthInvalid: []string{
			"cookie失效", "cookie无效", "登录失败", "登录错误", "未登录",
			"需要登录", "请先登录", "认证失败", "unauthorized", "未授权",
			"账号异常", "账户异常", "登录状态失效",
		},
	}
}
