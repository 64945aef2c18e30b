package cookie

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_SessionFieldsOnlyCollapseWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "SESSDATA=abc; bili_jct=def", want: "SESSDATA=abc; bili_jct=def"},
		{in: "  SESSDATA=abc;\n  DedeUserID=42 ", want: "SESSDATA=abc; DedeUserID=42"},
		{in: "DedeUserID=42;\t\tbuvid3=x", want: "DedeUserID=42; buvid3=x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

func TestNormalize_Netscape(t *testing.T) {
	jar := "# Netscape HTTP Cookie File\n" +
		".bilibili.com\tTRUE\t/\tFALSE\t1700000000\tbuvid3\tabc\n" +
		".bilibili.com\tTRUE\t/\tTRUE\t1700000000\tbili_jct\tdef\n" +
		"broken\tline\n"
	assert.Equal(t, "buvid3=abc; bili_jct=def", Normalize(jar))
}

func TestNormalize_JSON(t *testing.T) {
	assert.Equal(t, "b=2; a=x", Normalize(`{"b": 2, "a": "x"}`))
	assert.Equal(t, "buvid3=abc; bili_jct=def",
		Normalize(`[{"name":"buvid3","value":"abc"},{"name":"bili_jct","value":"def"},"skip"]`))
}

func TestNormalize_InvalidJSONFallsThrough(t *testing.T) {
	assert.Equal(t, "{not json", Normalize("{not json"))
}

func TestNormalize_MultiLinePairs(t *testing.T) {
	assert.Equal(t, "buvid3=abc; bili_jct=d=e", Normalize("buvid3 = abc\n# comment\nbili_jct=d=e\nnoequals"))
}

func TestNormalize_BrowserFormatUnchanged(t *testing.T) {
	assert.Equal(t, "buvid3=abc; bili_jct=def", Normalize("buvid3=abc; bili_jct=def"))
}

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "", Normalize(" \n\t "))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "SESSDATA=***; buvid3=abc; bili_jct=***", Mask("SESSDATA=secret; buvid3=abc; bili_jct=token"))
}
