// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	delimiter = ','
	quote     = '"'
)

// RecordParseError reports a single malformed record. The codec fails the
// record, not the batch — callers should log it and continue with the
// remaining well-formed records.
type RecordParseError struct {
	LineNumber int
	Reason     string
}

func (e *RecordParseError) Error() string {
	return fmt.Sprintf("record: line %d: %s", e.LineNumber, e.Reason)
}

// Parse decodes the Device's delimited text format. The first line is
// treated as a header naming fields; column order is not assumed. Each
// subsequent line yields one DeviceRecord. A malformed record is skipped
// and reported in errs without aborting the rest of the batch.
func Parse(data string) (records []DeviceRecord, errs []*RecordParseError) {
	lines := splitRecords(data)
	if len(lines) == 0 {
		return nil, nil
	}

	header, err := splitFields(lines[0])
	if err != nil {
		errs = append(errs, &RecordParseError{LineNumber: 1, Reason: fmt.Sprintf("invalid header: %v", err)})
		return nil, errs
	}

	columnIndex := make(map[string]int, len(header))
	for i, name := range header {
		columnIndex[name] = i
	}

	for _, required := range headerFields {
		if _, ok := columnIndex[required]; !ok {
			errs = append(errs, &RecordParseError{LineNumber: 1, Reason: fmt.Sprintf("missing column %q", required)})
			return nil, errs
		}
	}

	for i, line := range lines[1:] {
		lineNumber := i + 2
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields, err := splitFields(line)
		if err != nil {
			errs = append(errs, &RecordParseError{LineNumber: lineNumber, Reason: err.Error()})
			continue
		}

		record, err := fieldsToRecord(fields, columnIndex)
		if err != nil {
			errs = append(errs, &RecordParseError{LineNumber: lineNumber, Reason: err.Error()})
			continue
		}

		records = append(records, record)
	}

	return records, errs
}

func fieldsToRecord(fields []string, columnIndex map[string]int) (DeviceRecord, error) {
	get := func(name string) (string, error) {
		idx, ok := columnIndex[name]
		if !ok || idx >= len(fields) {
			return "", fmt.Errorf("missing value for column %q", name)
		}
		return fields[idx], nil
	}

	var r DeviceRecord
	var err error

	if r.TagID, err = get("tag_id"); err != nil {
		return r, err
	}
	if r.TagID == "" {
		return r, fmt.Errorf("empty tag_id")
	}
	if r.Material, err = get("material"); err != nil {
		return r, err
	}
	if r.Brand, err = get("brand"); err != nil {
		return r, err
	}
	if r.ColorName, err = get("color_name"); err != nil {
		return r, err
	}
	if r.ColorHex, err = get("color_hex"); err != nil {
		return r, err
	}

	nominal, err := get("nominal_weight_g")
	if err != nil {
		return r, err
	}
	if r.NominalWeightG, err = strconv.ParseFloat(nominal, 64); err != nil {
		return r, fmt.Errorf("invalid nominal_weight_g: %w", err)
	}

	empty, err := get("empty_weight_g")
	if err != nil {
		return r, err
	}
	if r.EmptyWeightG, err = strconv.ParseFloat(empty, 64); err != nil {
		return r, fmt.Errorf("invalid empty_weight_g: %w", err)
	}

	remaining, err := get("remaining_g")
	if err != nil {
		return r, err
	}
	if r.RemainingG, err = strconv.ParseFloat(remaining, 64); err != nil {
		return r, fmt.Errorf("invalid remaining_g: %w", err)
	}

	spoolID, err := get("device_spool_id")
	if err != nil {
		return r, err
	}
	if r.DeviceSpoolID, err = strconv.ParseInt(spoolID, 10, 64); err != nil {
		return r, fmt.Errorf("invalid device_spool_id: %w", err)
	}

	if r.RemainingG < 0 || r.NominalWeightG < 0 || r.EmptyWeightG < 0 {
		return r, fmt.Errorf("negative weight field")
	}
	if r.RemainingG > r.NominalWeightG {
		return r, fmt.Errorf("remaining_g %.3f exceeds nominal_weight_g %.3f", r.RemainingG, r.NominalWeightG)
	}

	return r, nil
}

// Serialize encodes records into the Device wire format, header first, in
// canonical column order.
func Serialize(records []DeviceRecord) string {
	var b strings.Builder

	b.WriteString(joinFields(headerFields))
	b.WriteByte('\n')

	for _, r := range records {
		b.WriteString(SerializeRecord(r))
		b.WriteByte('\n')
	}

	return b.String()
}

// SerializeRecord encodes a single record as one line (no trailing newline).
func SerializeRecord(r DeviceRecord) string {
	fields := []string{
		r.TagID,
		r.Material,
		r.Brand,
		r.ColorName,
		r.ColorHex,
		strconv.FormatFloat(r.NominalWeightG, 'f', -1, 64),
		strconv.FormatFloat(r.EmptyWeightG, 'f', -1, 64),
		strconv.FormatFloat(r.RemainingG, 'f', -1, 64),
		strconv.FormatInt(r.DeviceSpoolID, 10),
	}
	return joinFields(fields)
}

func joinFields(fields []string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escapeField(f)
	}
	return strings.Join(escaped, string(delimiter))
}

func needsQuoting(field string) bool {
	return strings.ContainsRune(field, delimiter) ||
		strings.ContainsRune(field, quote) ||
		strings.ContainsRune(field, '\n') ||
		strings.ContainsRune(field, '\r')
}

func escapeField(field string) string {
	if !needsQuoting(field) {
		return field
	}
	escaped := strings.ReplaceAll(field, string(quote), string(quote)+string(quote))
	return string(quote) + escaped + string(quote)
}

// splitRecords splits raw input into record lines, respecting quoted
// fields that may themselves contain literal newlines.
func splitRecords(data string) []string {
	var lines []string
	var current strings.Builder
	inQuotes := false
	runes := []rune(data)

	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == quote:
			inQuotes = !inQuotes
			current.WriteRune(c)
		case c == '\n' && !inQuotes:
			lines = append(lines, strings.TrimSuffix(current.String(), "\r"))
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}

	if current.Len() > 0 {
		lines = append(lines, strings.TrimSuffix(current.String(), "\r"))
	}

	return lines
}

// splitFields splits one record line into its escaped-decoded field values.
func splitFields(line string) ([]string, error) {
	var fields []string
	var current strings.Builder
	inQuotes := false
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case inQuotes && c == quote:
			if i+1 < len(runes) && runes[i+1] == quote {
				current.WriteRune(quote)
				i++
			} else {
				inQuotes = false
			}
		case !inQuotes && c == quote:
			if current.Len() != 0 {
				return nil, fmt.Errorf("unexpected quote mid-field")
			}
			inQuotes = true
		case !inQuotes && c == delimiter:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}

	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted field")
	}

	fields = append(fields, current.String())

	return fields, nil
}
