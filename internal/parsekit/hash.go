// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashSeparator joins column values for hashing. ASCII unit separator cannot
// appear in a normalized value (tabs and NBSP are folded to spaces, control
// characters never survive decoding of CMS files), so concatenation is
// unambiguous. NULL is rendered as an empty field.
const hashSeparator = "\x1f"

// RowContentHash computes the deterministic content hash of a row: the
// canonicalized values of the columns in schema column_order, joined with
// the reserved separator, SHA-256, lowercase hex. Metadata columns are never
// part of column_order, so changing release_id or filename cannot change the
// hash.
func RowContentHash(row Row, columnOrder []string) string {
	var b strings.Builder
	for idx, col := range columnOrder {
		if idx > 0 {
			b.WriteString(hashSeparator)
		}
		b.WriteString(row.Values[col])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// HashFrame computes and stores row_content_hash for every row of the frame.
func HashFrame(frame *Frame, columnOrder []string) {
	for idx := range frame.Rows {
		frame.Rows[idx].Values["row_content_hash"] = RowContentHash(frame.Rows[idx], columnOrder)
	}
}
