// Package naming translates file naming templates into the token set the
// downloader understands.
package naming

import (
	"sort"
	"strings"
)

// Token describes one template parameter.
type Token struct {
	Canonical   string
	Localized   string
	Description string
	Multi       bool
}

// Tokens is the closed vocabulary, in display order.
var Tokens = []Token{
	{Canonical: "<videoTitle>", Localized: "<视频标题>", Description: "视频的标题"},
	{Canonical: "<bvid>", Localized: "<BV号>", Description: "视频的BV号（如：BV1234567890）"},
	{Canonical: "<aid>", Localized: "<AID>", Description: "视频的AID"},
	{Canonical: "<cid>", Localized: "<CID>", Description: "视频的CID"},
	{Canonical: "<dfn>", Localized: "<清晰度>", Description: "视频清晰度（如：1080P、720P、4K等）"},
	{Canonical: "<res>", Localized: "<分辨率>", Description: "视频分辨率（如：1920x1080）"},
	{Canonical: "<fps>", Localized: "<帧率>", Description: "视频帧率（如：30、60）"},
	{Canonical: "<videoCodecs>", Localized: "<视频编码>", Description: "视频编码格式（如：avc、hevc）"},
	{Canonical: "<videoBandwidth>", Localized: "<视频码率>", Description: "视频码率"},
	{Canonical: "<audioCodecs>", Localized: "<音频编码>", Description: "音频编码格式"},
	{Canonical: "<audioBandwidth>", Localized: "<音频码率>", Description: "音频码率"},
	{Canonical: "<ownerName>", Localized: "<UP主名称>", Description: "上传视频的UP主名字"},
	{Canonical: "<ownerMid>", Localized: "<UP主MID>", Description: "UP主的MID号"},
	{Canonical: "<publishDate>", Localized: "<发布时间>", Description: "视频发布时间（格式：2024-01-01_12-00-00）"},
	{Canonical: "<apiType>", Localized: "<API类型>", Description: "API类型（TV/APP/INTL/WEB）"},
	{Canonical: "<pageNumber>", Localized: "<分P序号>", Description: "分P序号（如：1、2、10）", Multi: true},
	{Canonical: "<pageNumberWithZero>", Localized: "<分P序号补零>", Description: "分P序号带前导零（如：01、02、10）", Multi: true},
	{Canonical: "<pageTitle>", Localized: "<分P标题>", Description: "每个分P的标题", Multi: true},
}

// lowercase spellings accepted for compatibility.
var aliases = map[string]string{
	"<bv号>":     "<bvid>",
	"<up主名称>":   "<ownerName>",
	"<up主mid>":  "<ownerMid>",
	"<api类型>":   "<apiType>",
	"<分p序号>":    "<pageNumber>",
	"<分p序号补零>":  "<pageNumberWithZero>",
	"<分p标题>":    "<pageTitle>",
}

const (
	ownerFolder = "<ownerName>/"

	defaultSingle = "<videoTitle>[<dfn>]"
	defaultMulti  = "<videoTitle>/[P<pageNumberWithZero>]<pageTitle>[<dfn>]"
)

type replacement struct {
	from string
	to   string
}

// replacements is sorted longest spelling first so "<分P序号补零>" is never
// clobbered by "<分P序号>".
var replacements = buildReplacements()

func buildReplacements() []replacement {
	var out []replacement
	for _, tok := range Tokens {
		out = append(out, replacement{from: tok.Localized, to: tok.Canonical})
	}
	for from, to := range aliases {
		out = append(out, replacement{from: from, to: to})
	}
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := len([]rune(out[i].from)), len([]rune(out[j].from))
		if li != lj {
			return li > lj
		}
		return out[i].from < out[j].from
	})
	return out
}

// Canonicalize rewrites localized tokens into canonical ones. It is
// idempotent: canonical tokens are never rewritten.
func Canonicalize(pattern string) string {
	if pattern == "" {
		return pattern
	}
	result := pattern
	for _, r := range replacements {
		result = strings.ReplaceAll(result, r.from, r.to)
	}
	return result
}

// WithOwnerFolder prepends an owner folder unless the template already has
// one at the root or as an intermediate segment. Owner tokens inside a file
// name do not count.
func WithOwnerFolder(pattern string) string {
	lower := strings.ToLower(pattern)
	if strings.HasPrefix(lower, "<ownername>/") || strings.Contains(lower, "/<ownername>/") {
		return pattern
	}
	return ownerFolder + pattern
}

// Resolve returns the template to pass to the downloader for either the
// single-video or the multi-part case.
func Resolve(pattern string, classifyByOwner, multi bool) string {
	if pattern == "" {
		def := defaultSingle
		if multi {
			def = defaultMulti
		}
		if classifyByOwner {
			return ownerFolder + def
		}
		return def
	}

	out := Canonicalize(pattern)
	if classifyByOwner {
		out = WithOwnerFolder(out)
	}
	return out
}

// Default returns the built-in template for display.
func Default(multi bool) string {
	if multi {
		return defaultMulti
	}
	return defaultSingle
}
