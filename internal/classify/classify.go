// Package classify decides whether a downloader run succeeded by reading its
// free-text output, and extracts the title and part lines it printed.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Sube3494/bilidownloader/internal/executor"
)

// Reason is the verdict category.
type Reason string

const (
	ReasonSuccess          Reason = "success"
	ReasonBinaryNotFound   Reason = "binary_not_found"
	ReasonVideoUnavailable Reason = "video_unavailable"
	ReasonAuthInvalid      Reason = "auth_invalid"
	ReasonUnclassified     Reason = "unclassified"
)

// Verdict is the classifier result.
type Verdict struct {
	Success bool
	Reason  Reason
	Signals Signals
}

// Signals records which vocabulary tables matched. Useful in logs.
type Signals struct {
	ExitZero         bool `json:"exit_zero"`
	ErrorKeyword     bool `json:"error_keyword"`
	SuccessIndicator bool `json:"success_indicator"`
	FilePath         bool `json:"file_path"`
	Banner           bool `json:"banner"`
	Complete         bool `json:"complete"`
	VideoInfoCount   int  `json:"video_info_count"`
}

// Classifier applies a Vocabulary.
type Classifier struct {
	vocab Vocabulary
}

func New(vocab Vocabulary) *Classifier {
	return &Classifier{vocab: vocab}
}

var std = New(DefaultVocabulary())

// Classify uses the default vocabulary.
func Classify(res executor.Result) Verdict {
	return std.Classify(res)
}

// Vocabulary returns the tables in use.
func (c *Classifier) Vocabulary() Vocabulary {
	return c.vocab
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func countAny(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// Signals computes the raw matches for res.
func (c *Classifier) Signals(res executor.Result) Signals {
	original := res.Stdout + "\n" + res.Stderr
	lower := strings.ToLower(original)
	return Signals{
		ExitZero:         res.ExitCode == 0,
		ErrorKeyword:     containsAny(lower, c.vocab.ErrorKeywords),
		SuccessIndicator: containsAny(lower, c.vocab.SuccessIndicators),
		FilePath:         containsAny(original, c.vocab.FilePathIndicators),
		Banner:           containsAny(lower, c.vocab.BannerIndicators),
		Complete:         containsAny(lower, c.vocab.CompleteIndicators),
		VideoInfoCount:   countAny(lower, c.vocab.VideoInfo),
	}
}

// Classify decides success first; exit code 0 is sufficient on its own.
// Failures are sub-classified in priority order.
func (c *Classifier) Classify(res executor.Result) Verdict {
	s := c.Signals(res)

	success := s.ExitZero ||
		(s.SuccessIndicator && s.Complete && !s.ErrorKeyword) ||
		(s.FilePath && !s.ErrorKeyword) ||
		(s.Banner && s.SuccessIndicator && s.Complete && !s.ErrorKeyword)
	if success {
		return Verdict{Success: true, Reason: ReasonSuccess, Signals: s}
	}

	return Verdict{Reason: c.failureReason(res, s), Signals: s}
}

func (c *Classifier) failureReason(res executor.Result, s Signals) Reason {
	original := res.Stdout + "\n" + res.Stderr
	lower := strings.ToLower(original)
	hasVideoInfo := s.VideoInfoCount >= c.vocab.MinVideoInfo

	switch {
	case res.Stderr != "" && (containsAny(res.Stderr, c.vocab.MissingBinary) ||
		containsAny(strings.ToLower(res.Stderr), c.vocab.MissingBinaryFolded)):
		return ReasonBinaryNotFound
	case res.ExitCode != 0 && !hasVideoInfo:
		return ReasonVideoUnavailable
	case containsAny(original, c.vocab.Unavailable):
		return ReasonVideoUnavailable
	case hasVideoInfo && containsAny(lower, c.vocab.AuthInvalid):
		return ReasonAuthInvalid
	default:
		return ReasonUnclassified
	}
}

var partLine = regexp.MustCompile(`P(\d+):\s*\[([^\]]+)\]\s*\[([^\]]+)\]`)

// PartLine is one "P<n>: [id] [title] [duration]" line.
type PartLine struct {
	Index int
	Title string
}

func (p PartLine) String() string {
	return "P" + strconv.Itoa(p.Index) + ": " + p.Title
}

// Info is what the downloader printed about the video.
type Info struct {
	Title string
	Parts []PartLine
}

// ExtractInfo reads the first title label and every part line in order.
func ExtractInfo(res executor.Result) Info {
	var info Info
	text := res.Stdout
	if res.Stderr != "" {
		text += "\n" + res.Stderr
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if info.Title == "" {
			if t := labelValue(line); t != "" {
				info.Title = t
				continue
			}
		}
		m := partLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		info.Parts = append(info.Parts, PartLine{Index: n, Title: m[3]})
	}
	return info
}

var titleLabel = regexp.MustCompile(`(?i)(?:^|\s)title:\s*(.*)$`)

func labelValue(line string) string {
	if _, after, ok := strings.Cut(line, "视频标题:"); ok {
		return strings.TrimSpace(after)
	}
	if m := titleLabel.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// PartTitles returns the titles only.
func (i Info) PartTitles() []string {
	out := make([]string, len(i.Parts))
	for n, p := range i.Parts {
		out[n] = p.Title
	}
	return out
}
