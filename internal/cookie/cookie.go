// Package cookie turns pasted cookie text into the "name=value; name=value"
// form the downloader expects.
package cookie

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SessionFields are cookie names whose presence means the text is already in
// header form.
var SessionFields = []string{"SESSDATA=", "DedeUserID="}

var (
	whitespace    = regexp.MustCompile(`\s+`)
	sensitiveVals = regexp.MustCompile(`(SESSDATA|DedeUserID|bili_jct)=[^;]+`)
)

type pair struct {
	name  string
	value string
}

// Normalize accepts browser header text, a Netscape cookie jar, JSON (object
// or array of {name,value}) or multi-line key=value text. Empty input yields
// "", which callers treat as "no cookie configured".
func Normalize(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	for _, field := range SessionFields {
		if strings.Contains(input, field) {
			return strings.TrimSpace(whitespace.ReplaceAllString(input, " "))
		}
	}

	if strings.HasPrefix(input, "#") || strings.Contains(input, "\t") {
		return join(parseNetscape(input))
	}

	if strings.HasPrefix(input, "{") || strings.HasPrefix(input, "[") {
		if pairs, ok := parseJSON(input); ok {
			return join(pairs)
		}
	}

	if strings.Contains(input, "\n") {
		if pairs := parseLines(input); len(pairs) > 0 {
			return join(pairs)
		}
	}

	return input
}

// Mask hides session values and shortens long cookies so they can be echoed
// back to a chat.
func Mask(cookie string) string {
	if len(cookie) > 100 {
		cookie = cookie[:50] + "..." + cookie[len(cookie)-50:]
	}
	return sensitiveVals.ReplaceAllString(cookie, "$1=***")
}

// parseNetscape reads the domain/flag/path/secure/expiry/name/value columns.
// Later duplicates replace earlier ones but keep the first position.
func parseNetscape(input string) []pair {
	var pairs []pair
	seen := make(map[string]int)
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 7 {
			continue
		}
		pairs = upsert(pairs, seen, parts[5], parts[6])
	}
	return pairs
}

func parseJSON(input string) ([]pair, bool) {
	var raw any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return nil, false
	}

	var pairs []pair
	switch obj := raw.(type) {
	case map[string]any:
		// Go maps are unordered; keep the order the keys appear in the text.
		for _, key := range objectKeys(input) {
			if v, ok := obj[key]; ok {
				pairs = append(pairs, pair{name: key, value: stringify(v)})
			}
		}
	case []any:
		for _, item := range obj {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			pairs = append(pairs, pair{name: stringify(m["name"]), value: stringify(m["value"])})
		}
	default:
		return nil, false
	}
	return pairs, true
}

func parseLines(input string) []pair {
	var pairs []pair
	seen := make(map[string]int)
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		pairs = upsert(pairs, seen, strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return pairs
}

func upsert(pairs []pair, seen map[string]int, name, value string) []pair {
	if i, ok := seen[name]; ok {
		pairs[i].value = value
		return pairs
	}
	seen[name] = len(pairs)
	return append(pairs, pair{name: name, value: value})
}

func join(pairs []pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.name+"="+p.value)
	}
	return strings.Join(parts, "; ")
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(input string) []string {
	dec := json.NewDecoder(strings.NewReader(input))
	if _, err := dec.Token(); err != nil {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}
