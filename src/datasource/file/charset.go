package file

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

const replacementChar = "\uFFFD"

// Decode 按顺序尝试各编码, 返回第一个没有产生替换字符的结果和使用的编码名.
// 全部失败时按 UTF-8 解码并替换非法字节, 编码名为 "utf-8 (replace)".
func Decode(data []byte, encodings []string) (string, string) {
	existing := strings.Count(string(data), replacementChar)

	for _, name := range encodings {
		enc := lookupEncoding(name)
		if enc == nil {
			continue
		}
		decoded, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		text := string(decoded)
		if strings.Count(text, replacementChar) > existing {
			continue
		}
		return trimBOM(text), name
	}

	decoded, _ := unicode.UTF8.NewDecoder().Bytes(data)
	return trimBOM(string(decoded)), "utf-8 (replace)"
}

// lookupEncoding 先查 IANA 名称, 再查 WHATWG 名称
func lookupEncoding(name string) encoding.Encoding {
	if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
		return enc
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc
	}
	return nil
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
