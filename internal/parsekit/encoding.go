// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names as recorded in parser metrics.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF16LE = "utf-16-le"
	EncodingUTF16BE = "utf-16-be"
	EncodingCP1252  = "cp1252"
	EncodingLatin1  = "latin-1"
)

// encodingSniffLimit bounds how much of the file head the cascade inspects.
const encodingSniffLimit = 8 * 1024

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// EncodingResult reports what the cascade decided.
type EncodingResult struct {
	Name     string
	Fallback bool // true if strict UTF-8 failed and a legacy codepage was used
	HadBOM   bool
}

// DetectEncoding runs the encoding cascade over the head of the input:
// (1) strip BOM if present; (2) try strict UTF-8; (3) try CP1252;
// (4) fall back to Latin-1, which cannot fail.
func DetectEncoding(head []byte) EncodingResult {
	if len(head) > encodingSniffLimit {
		head = head[:encodingSniffLimit]
	}
	switch {
	case bytes.HasPrefix(head, bomUTF8):
		return EncodingResult{Name: EncodingUTF8, HadBOM: true}
	case bytes.HasPrefix(head, bomUTF16LE):
		return EncodingResult{Name: EncodingUTF16LE, HadBOM: true}
	case bytes.HasPrefix(head, bomUTF16BE):
		return EncodingResult{Name: EncodingUTF16BE, HadBOM: true}
	}
	// A head truncated mid-rune must not fail the UTF-8 check.
	trimmed := head
	for len(trimmed) > 0 && !utf8.Valid(trimmed) && len(head)-len(trimmed) < utf8.UTFMax {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if utf8.Valid(trimmed) {
		return EncodingResult{Name: EncodingUTF8}
	}
	// CP1252 decodes every byte except a handful of undefined slots; if any
	// of those appear, Latin-1 takes over (and cannot fail).
	if cp1252Decodable(head) {
		return EncodingResult{Name: EncodingCP1252, Fallback: true}
	}
	return EncodingResult{Name: EncodingLatin1, Fallback: true}
}

// cp1252 leaves 0x81, 0x8D, 0x8F, 0x90, 0x9D undefined.
func cp1252Decodable(buf []byte) bool {
	for _, b := range buf {
		switch b {
		case 0x81, 0x8D, 0x8F, 0x90, 0x9D:
			return false
		}
	}
	return true
}

// DecodeBytes decodes the full input according to the detected encoding,
// stripping any BOM. The returned string is valid UTF-8.
func DecodeBytes(input []byte, enc EncodingResult) (string, error) {
	switch enc.Name {
	case EncodingUTF8:
		return string(bytes.TrimPrefix(input, bomUTF8)), nil
	case EncodingUTF16LE:
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(decoder, input)
		return string(out), err
	case EncodingUTF16BE:
		decoder := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(decoder, input)
		return string(out), err
	case EncodingCP1252:
		out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), input)
		return string(out), err
	default:
		out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), input)
		return string(out), err
	}
}

// SniffAndDecode is the common entrypoint: detect on the head, decode the
// whole input.
func SniffAndDecode(input []byte) (string, EncodingResult, error) {
	enc := DetectEncoding(input)
	text, err := DecodeBytes(input, enc)
	return text, enc, err
}
