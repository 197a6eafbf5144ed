package parser

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// candidate is one encoding the parser is willing to try.
type candidate struct {
	name string
	enc  encoding.Encoding
}

// lookupEncoding resolves a configured encoding name.
func lookupEncoding(name string) (candidate, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		return candidate{name: "utf-8", enc: unicode.UTF8BOM}, nil
	case "shift_jis", "shift-jis", "sjis", "cp932", "windows-31j":
		return candidate{name: "shift_jis", enc: japanese.ShiftJIS}, nil
	case "euc-jp", "eucjp":
		return candidate{name: "euc-jp", enc: japanese.EUCJP}, nil
	default:
		return candidate{}, fmt.Errorf("unsupported encoding: %q", name)
	}
}

// decode converts data to UTF-8. It reports false when the bytes are not clean
// text in this encoding.
func (c candidate) decode(data []byte) ([]byte, bool) {
	if c.name == "utf-8" {
		if !utf8.Valid(data) {
			return nil, false
		}
		// Strips a leading byte order mark.
		out, _, err := transform.Bytes(c.enc.NewDecoder(), data)
		return out, err == nil
	}

	out, _, err := transform.Bytes(c.enc.NewDecoder(), data)
	if err != nil {
		return nil, false
	}
	// Legacy decoders substitute U+FFFD for byte sequences they cannot map.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return nil, false
	}
	return out, true
}
