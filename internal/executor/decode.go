package executor

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	sampleRunes    = 100
	printableRatio = 0.7
)

type decoder struct {
	name   string
	decode func([]byte) (string, bool)
}

// Tried in order. Strict UTF-8 goes first: UTF-8 Chinese text is usually also
// valid GBK and would otherwise decode as mojibake. Windows consoles in zh-CN
// emit GBK, which is rarely valid UTF-8.
var decoders = []decoder{
	{name: "utf-8", decode: decodeUTF8},
	{name: "gbk", decode: decodeGBK},
	{name: "gb2312", decode: decodeGB2312},
	{name: "latin1", decode: decodeLatin1},
}

// Decode converts raw process output to text. The first strict decode whose
// leading runes are mostly printable wins; otherwise the bytes are decoded as
// GBK with undecodable sequences dropped.
func Decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	for _, d := range decoders {
		text, ok := d.decode(raw)
		if ok && mostlyPrintable(text) {
			return text
		}
	}
	text, _ := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	return strings.ReplaceAll(string(text), string(utf8.RuneError), "")
}

// Encoding reports which decoder Decode would pick, "lossy" for the fallback.
func Encoding(raw []byte) string {
	for _, d := range decoders {
		text, ok := d.decode(raw)
		if ok && mostlyPrintable(text) {
			return d.name
		}
	}
	return "lossy"
}

func mostlyPrintable(text string) bool {
	total, printable := 0, 0
	for _, r := range text {
		if total == sampleRunes {
			break
		}
		total++
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(printable)/float64(total) > printableRatio
}

// The x/text decoders substitute U+FFFD instead of failing, so strictness is
// checked on the output.
func decodeGBK(raw []byte) (string, bool) {
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw)
	if err != nil || strings.ContainsRune(string(out), utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

// GB2312 is the EUC-CN subset of GBK: both bytes of a double-byte character
// lie in 0xA1..0xFE.
func decodeGB2312(raw []byte) (string, bool) {
	for i := 0; i < len(raw); i++ {
		b := raw[i]
		if b < 0x80 {
			continue
		}
		if b < 0xA1 || b > 0xF7 || i+1 >= len(raw) {
			return "", false
		}
		t := raw[i+1]
		if t < 0xA1 || t > 0xFE {
			return "", false
		}
		i++
	}
	return decodeGBK(raw)
}

func decodeUTF8(raw []byte) (string, bool) {
	if !utf8.Valid(raw) {
		return "", false
	}
	return string(raw), true
}

func decodeLatin1(raw []byte) (string, bool) {
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	return string(out), true
}
