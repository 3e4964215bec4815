// Package toon implements TOON (Token-Oriented Object Notation) encoding of
// scan and gate reports.
package toon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phobologic/structgate/internal/gate"
	"github.com/phobologic/structgate/internal/model"
	"github.com/phobologic/structgate/internal/naming"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// EncodeScan renders the files, declarations, impls and flags of a scan.
// flags must be names produced by naming.Flag.
func EncodeScan(root string, files []model.File, flags []string) (string, error) {
	var parts []string

	parts = append(parts, fmt.Sprintf("root: %s", encodeValue(root)))

	var fileRows, declRows, implRows [][]string
	for i := range files {
		f := &files[i]
		fileRows = append(fileRows, []string{
			f.Path,
			f.Language,
			strings.Join(f.Module, "::"),
			strconv.Itoa(len(f.Decls)),
			strconv.Itoa(len(f.Impls)),
		})
		for j := range f.Decls {
			d := &f.Decls[j]
			declRows = append(declRows, []string{
				f.Path,
				d.Name,
				string(d.Kind),
				strconv.Itoa(d.Line),
				memberNames(d.Members),
			})
		}
		for j := range f.Impls {
			im := &f.Impls[j]
			implRows = append(implRows, []string{
				f.Path,
				im.Trait,
				im.SelfType,
				strconv.Itoa(im.Line),
				memberNames(im.Members),
			})
		}
	}
	parts = append(parts, formatTabular("files", []string{"path", "language", "module", "decls", "impls"}, fileRows))
	parts = append(parts, formatTabular("declarations", []string{"file", "name", "kind", "line", "members"}, declRows))
	parts = append(parts, formatTabular("impls", []string{"file", "trait", "type", "line", "members"}, implRows))

	flagRows := make([][]string, 0, len(flags))
	for _, flag := range flags {
		sym, err := naming.Decode(flag)
		if err != nil {
			return "", err
		}
		flagRows = append(flagRows, []string{string(sym.Fact), sym.String(), flag})
	}
	parts = append(parts, formatTabular("flags", []string{"fact", "symbol", "flag"}, flagRows))

	return strings.Join(parts, "\n"), nil
}

// EncodeGate renders the decisions of a gate run.
func EncodeGate(r *gate.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("files: %d", r.Files))

	var rows [][]string
	for _, d := range r.Decisions {
		rows = append(rows, []string{
			d.File,
			strconv.Itoa(d.Line),
			d.Name,
			string(d.Action),
			strings.Join(d.Missing, "; "),
		})
	}
	parts = append(parts, formatTabular("decisions", []string{"file", "line", "name", "action", "missing"}, rows))

	return strings.Join(parts, "\n")
}

func memberNames(members []model.Member) string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return strings.Join(names, " ")
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
