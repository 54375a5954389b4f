// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/hubnet/pkg/identity"
)

// Column names of the registry tables hubs have historically been seeded
// from (one file per partition).
const (
	ColName        = "Agent Name"
	ColHost        = "IP Address"
	ColPort        = "Port"
	ColCategory    = "Agent Type"
	ColActive      = "Active"
	ColDescription = "Description"
	ColRelevance   = "relevance_rate"
	ColGoodness    = "goodness_rate"
)

var baseColumns = []string{ColName, ColHost, ColPort, ColCategory, ColActive, ColDescription, ColRelevance, ColGoodness}

var knownColumns = func() map[string]struct{} {
	m := make(map[string]struct{}, len(baseColumns)+1)
	for _, c := range baseColumns {
		m[c] = struct{}{}
	}
	m["Name"] = struct{}{}
	return m
}()

// ReadCSV decodes a registry table into records of kind. Unknown columns
// are kept in Record.Extra.
func ReadCSV(r io.Reader, kind Kind) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	if _, ok := cols[ColName]; !ok {
		if i, ok := cols["Name"]; ok {
			cols[ColName] = i
		} else {
			return nil, fmt.Errorf("registry: csv is missing %q column", ColName)
		}
	}
	if _, ok := cols[ColHost]; !ok {
		return nil, fmt.Errorf("registry: csv is missing %q column", ColHost)
	}

	var out []Record
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("registry: csv line %d: %w", line, err)
		}
		cells := make(map[string]string, len(cols))
		for name, i := range cols {
			if i < len(row) {
				cells[name] = row[i]
			}
		}
		rec, err := RecordFromColumns(kind, cells)
		if err != nil {
			return nil, fmt.Errorf("registry: csv line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// RecordFromColumns builds a record of kind from named table cells. The
// name may come as "Agent Name" or "Name". Unknown columns land in Extra.
func RecordFromColumns(kind Kind, cells map[string]string) (Record, error) {
	get := func(col string) string {
		return strings.TrimSpace(cells[col])
	}
	name := get(ColName)
	if name == "" {
		name = get("Name")
	}
	rec := Record{
		Identity:    identity.New(name, get(ColHost), get(ColPort)),
		Kind:        kind,
		Category:    get(ColCategory),
		Description: get(ColDescription),
	}
	var err error
	if rec.Active, err = parseBoolCell(get(ColActive)); err != nil {
		return Record{}, err
	}
	if rec.Relevance, err = parseFloatCell(get(ColRelevance)); err != nil {
		return Record{}, fmt.Errorf("relevance: %w", err)
	}
	if rec.Goodness, err = parseFloatCell(get(ColGoodness)); err != nil {
		return Record{}, fmt.Errorf("goodness: %w", err)
	}
	for col, v := range cells {
		if _, known := knownColumns[col]; known {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[col] = v
	}
	return rec, nil
}

// WriteCSV encodes records using the base columns followed by the union of
// extra columns in sorted order.
func WriteCSV(w io.Writer, records []Record) error {
	extraSet := map[string]struct{}{}
	for _, rec := range records {
		for k := range rec.Extra {
			extraSet[k] = struct{}{}
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, baseColumns...), extras...)); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.Identity.Name,
			rec.Identity.Host,
			rec.Identity.Port,
			rec.Category,
			formatBoolCell(rec.Active),
			rec.Description,
			strconv.FormatFloat(rec.Relevance, 'f', -1, 64),
			strconv.FormatFloat(rec.Goodness, 'f', -1, 64),
		}
		for _, k := range extras {
			row = append(row, rec.Extra[k])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Import reads a table and adds its records to store. Records already
// present are skipped. Returns the number of records added.
func Import(ctx context.Context, store Store, r io.Reader, kind Kind) (int, error) {
	records, err := ReadCSV(r, kind)
	if err != nil {
		return 0, err
	}
	added := 0
	for _, rec := range records {
		if err := store.Add(ctx, rec); err != nil {
			if errors.Is(err, ErrExists) {
				continue
			}
			return added, fmt.Errorf("registry: import %s: %w", rec.Identity, err)
		}
		added++
	}
	return added, nil
}

func parseBoolCell(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", ColActive, s)
	}
	return b, nil
}

func formatBoolCell(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseFloatCell(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
