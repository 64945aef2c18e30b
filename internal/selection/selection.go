// Package selection implements the interactive part selection step for
// multi-part videos.
package selection

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates selection shapes.
type Kind int

const (
	All Kind = iota
	Single
	Range
	List
)

func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Range:
		return "range"
	case List:
		return "list"
	default:
		return "all"
	}
}

// Selection is the resolved choice of parts.
type Selection struct {
	Kind    Kind
	Start   int
	End     int
	Indices []int
}

// AllParts is the default selection.
var AllParts = Selection{Kind: All}

var allSynonyms = map[string]struct{}{
	"":     {},
	"all":  {},
	"a":    {},
	"全部": {},
}

// Parse maps user input to a Selection. It never fails: anything that cannot
// be understood, and single indices outside [1, parts], degrade to All.
// Ranges and lists are passed through as given.
func Parse(input string, parts int) Selection {
	in := strings.ToLower(strings.TrimSpace(input))
	if _, ok := allSynonyms[in]; ok {
		return AllParts
	}

	if strings.Contains(in, "-") {
		startText, endText, _ := strings.Cut(in, "-")
		start, err1 := strconv.Atoi(strings.TrimSpace(startText))
		end, err2 := strconv.Atoi(strings.TrimSpace(endText))
		if err1 != nil || err2 != nil {
			return AllParts
		}
		return Selection{Kind: Range, Start: start, End: end}
	}

	if strings.Contains(in, ",") {
		fields := strings.Split(in, ",")
		indices := make([]int, 0, len(fields))
		for _, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return AllParts
			}
			indices = append(indices, n)
		}
		return Selection{Kind: List, Indices: indices}
	}

	n, err := strconv.Atoi(in)
	if err != nil || n < 1 || n > parts {
		return AllParts
	}
	return Selection{Kind: Single, Start: n, End: n}
}

// IsAll reports whether every part is selected.
func (s Selection) IsAll() bool {
	return s.Kind == All
}

// Spec renders the selection in the downloader's -p syntax. All renders as
// "ALL" but is never passed to the downloader.
func (s Selection) Spec() string {
	switch s.Kind {
	case Single:
		return strconv.Itoa(s.Start)
	case Range:
		return fmt.Sprintf("%d-%d", s.Start, s.End)
	case List:
		parts := make([]string, len(s.Indices))
		for i, n := range s.Indices {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	default:
		return "ALL"
	}
}

// Contains reports whether part index n is selected.
func (s Selection) Contains(n int) bool {
	switch s.Kind {
	case Single:
		return n == s.Start
	case Range:
		return n >= s.Start && n <= s.End
	case List:
		for _, i := range s.Indices {
			if i == n {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (s Selection) String() string {
	return s.Spec()
}
