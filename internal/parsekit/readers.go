// SPDX-FileCopyrightText: 2025 cmspipe authors
// SPDX-License-Identifier: Apache-2.0

package parsekit

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/tealeg/xlsx"

	"github.com/alex-bea/cms-api-sub001/internal/core"
)

// FixedWidthResult is the outcome of a fixed-width read.
type FixedWidthResult struct {
	Frame Frame
	// SkippedRows counts header rows plus rows shorter than the layout's
	// minimum length. Short rows are skipped, never fatal; a file where no
	// row fits the layout raises a LayoutMismatchError instead.
	SkippedRows int
}

// ReadFixedWidth slices each line of the decoded text according to the
// LayoutSpec. Values are raw (unnormalized) strings; empty slices become
// NULL.
func ReadFixedWidth(text string, layout core.LayoutSpec) (FixedWidthResult, error) {
	var result FixedWidthResult
	result.Frame.Columns = layoutColumnNames(layout)
	minLen := layout.MinLineLength()

	lines := splitLines(text)
	pos := 0
	shortRows := 0
	for lineNo, line := range lines {
		if lineNo < layout.SkipLeadingRows {
			result.SkippedRows++
			continue
		}
		if strings.TrimSpace(line) == "" {
			result.SkippedRows++
			continue
		}
		if len(line) < minLen {
			result.SkippedRows++
			shortRows++
			continue
		}
		row := NewRow(pos)
		pos++
		for _, col := range layout.Columns {
			end := col.End
			if end > len(line) {
				end = len(line)
			}
			if col.Start >= end {
				continue // nullable column beyond line end
			}
			value := line[col.Start:end]
			if strings.TrimSpace(value) != "" {
				row.Values[col.Name] = value
			}
		}
		result.Frame.Rows = append(result.Frame.Rows, row)
	}

	if len(result.Frame.Rows) == 0 && shortRows > 0 {
		longest := 0
		for _, line := range lines {
			if len(line) > longest {
				longest = len(line)
			}
		}
		return result, core.LayoutMismatchError{
			LayoutVersion: layout.Version,
			LineNumber:    layout.SkipLeadingRows + 1,
			LineLength:    longest,
			WantMinLength: minLen,
		}
	}
	return result, nil
}

func layoutColumnNames(layout core.LayoutSpec) []string {
	names := make([]string, len(layout.Columns))
	for idx, col := range layout.Columns {
		names[idx] = col.Name
	}
	return names
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}

// SniffDelimiter inspects the first non-empty line and picks the delimiter
// with the highest count among comma, tab, pipe and semicolon. Comma wins
// ties.
func SniffDelimiter(text string) rune {
	for _, line := range splitLines(text) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		best, bestCount := ',', strings.Count(line, ",")
		for _, cand := range []rune{'\t', '|', ';'} {
			if count := strings.Count(line, string(cand)); count > bestCount {
				best, bestCount = cand, count
			}
		}
		return best
	}
	return ','
}

// ReadDelimited parses CSV/TSV text into a raw frame using the first row as
// headers. Headers are normalized and alias-mapped.
func ReadDelimited(text string, aliases map[string]string) (Frame, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = SniffDelimiter(text)
	reader.FieldsPerRecord = -1 // ragged rows are handled below
	reader.LazyQuotes = true

	rawHeader, err := reader.Read()
	if err != nil {
		return Frame{}, fmt.Errorf("while reading header row: %w", err)
	}
	headers, err := NormalizeHeaders(rawHeader, aliases)
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Columns: headers}
	pos := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Frame{}, fmt.Errorf("while reading record %d: %w", pos+2, err)
		}
		row := NewRow(pos)
		pos++
		for idx, value := range record {
			if idx >= len(headers) {
				break
			}
			if value != "" {
				row.Values[headers[idx]] = value
			}
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// ReadXLSX reads the first sheet of an XLSX workbook as strings only; the
// first row is the header. Typed casting happens later in the template, so
// Excel's numeric formatting never leaks into canonical values.
func ReadXLSX(data []byte, aliases map[string]string) (Frame, error) {
	file, err := xlsx.OpenBinary(data)
	if err != nil {
		return Frame{}, fmt.Errorf("while opening XLSX workbook: %w", err)
	}
	if len(file.Sheets) == 0 {
		return Frame{}, fmt.Errorf("XLSX workbook has no sheets")
	}
	sheet := file.Sheets[0]
	if len(sheet.Rows) == 0 {
		return Frame{}, fmt.Errorf("XLSX sheet %q is empty", sheet.Name)
	}

	rawHeader := make([]string, len(sheet.Rows[0].Cells))
	for idx, cell := range sheet.Rows[0].Cells {
		rawHeader[idx] = cell.Value
	}
	headers, err := NormalizeHeaders(rawHeader, aliases)
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{Columns: headers}
	for rowIdx, sheetRow := range sheet.Rows[1:] {
		row := NewRow(rowIdx)
		for cellIdx, cell := range sheetRow.Cells {
			if cellIdx >= len(headers) {
				break
			}
			if value := cell.Value; value != "" {
				row.Values[headers[cellIdx]] = value
			}
		}
		if len(row.Values) > 0 {
			frame.Rows = append(frame.Rows, row)
		}
	}
	return frame, nil
}

// ExtractZipMember returns the contents of the single archive member whose
// lowercased name matches the given suffix (e.g. ".txt", ".csv"). A missing
// or ambiguous member is a SourceError.
func ExtractZipMember(data []byte, sourceURL, suffix string) ([]byte, string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", core.SourceError{URL: sourceURL, Reason: "unreadable ZIP archive: " + err.Error()}
	}

	var matches []*zip.File
	for _, member := range reader.File {
		if strings.HasSuffix(strings.ToLower(member.Name), suffix) {
			matches = append(matches, member)
		}
	}
	switch len(matches) {
	case 0:
		return nil, "", core.SourceError{URL: sourceURL,
			Reason: fmt.Sprintf("archive has no member matching *%s", suffix)}
	case 1:
		// fallthrough below
	default:
		names := make([]string, len(matches))
		for idx, m := range matches {
			names[idx] = m.Name
		}
		return nil, "", core.SourceError{URL: sourceURL,
			Reason: fmt.Sprintf("archive has %d members matching *%s: %v", len(matches), suffix, names)}
	}

	rc, err := matches[0].Open()
	if err != nil {
		return nil, "", core.SourceError{URL: sourceURL, Reason: "while opening archive member: " + err.Error()}
	}
	defer rc.Close()
	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", core.SourceError{URL: sourceURL, Reason: "while reading archive member: " + err.Error()}
	}
	return buf, path.Base(matches[0].Name), nil
}
