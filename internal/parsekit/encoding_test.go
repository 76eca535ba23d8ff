// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectEncodingUTF8WithBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hcpcs,work_rvu\n99213,1.30\n")...)
	text, enc, err := SniffAndDecode(input)
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF8, enc.Name)
	assert.True(t, enc.HadBOM)
	assert.False(t, strings.ContainsRune(text, '\uFEFF'))
	assert.True(t, strings.HasPrefix(text, "hcpcs"))
}

func TestDetectEncodingPlainUTF8(t *testing.T) {
	text, enc, err := SniffAndDecode([]byte("locality,état\n"))
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF8, enc.Name)
	assert.False(t, enc.Fallback)
	assert.Contains(t, text, "état")
}

func TestDetectEncodingCP1252SmartQuote(t *testing.T) {
	// 0x92 is the CP1252 right single quote, invalid as a UTF-8 byte
	input := []byte("ST. MARY\x92S COUNTY\n")
	text, enc, err := SniffAndDecode(input)
	require.NoError(t, err)
	assert.Equal(t, EncodingCP1252, enc.Name)
	assert.True(t, enc.Fallback)
	assert.Contains(t, text, "ST. MARY’S COUNTY")
}

func TestDetectEncodingLatin1LastResort(t *testing.T) {
	// 0x81 is undefined in CP1252, so the cascade must reach Latin-1
	input := []byte("bad byte: \x81 end\n")
	text, enc, err := SniffAndDecode(input)
	require.NoError(t, err)
	assert.Equal(t, EncodingLatin1, enc.Name)
	assert.True(t, enc.Fallback)
	assert.Contains(t, text, "bad byte:  end")
}

func TestDetectEncodingUTF16LE(t *testing.T) {
	// "ab" in UTF-16-LE with BOM
	input := []byte{0xFF, 0xFE, 'a', 0x00, 'b', 0x00}
	text, enc, err := SniffAndDecode(input)
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF16LE, enc.Name)
	assert.Equal(t, "ab", text)
}

func TestDetectEncodingTruncatedRune(t *testing.T) {
	// a sniff head cut in the middle of a multi-byte rune must not force a
	// legacy-codepage fallback
	head := []byte("caf")
	head = append(head, 0xC3) // first byte of é
	enc := DetectEncoding(head)
	assert.Equal(t, EncodingUTF8, enc.Name)
}
