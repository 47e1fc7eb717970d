// Package render writes lhrunner command payloads as json, yaml or a
// plain-text table.
//
// The default format is table on a terminal and json otherwise; --format
// overrides it. --no-color applies to table status cells only. The TUI
// carries its own styling.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pithecene-io/lhrunner/cli/tui"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a --format value. An empty value parses to the empty
// Format so the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes payloads in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c and writes to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = defaultFormat(os.Stdout)
	}
	return NewRendererWithWriter(format, c.Bool("no-color"), os.Stdout), nil
}

// NewRendererWithWriter creates a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// defaultFormat is table for a terminal, json for pipes and files.
func defaultFormat(f *os.File) Format {
	if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return FormatTable
	}
	return FormatJSON
}

// Render writes data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		return enc.Encode(data)
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

// RenderTUI opens the read-only TUI view for viewType.
func (r *Renderer) RenderTUI(viewType string, data any) error {
	if !tui.IsTUISupported(viewType) {
		return fmt.Errorf("--tui is not supported for %s", viewType)
	}
	return tui.Run(viewType, data)
}

// renderTable writes a struct payload as "name: value" lines followed by a
// section per nested row list, and a slice payload as a column table.
func (r *Renderer) renderTable(data any) error {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	v := reflect.Indirect(reflect.ValueOf(data))
	switch v.Kind() {
	case reflect.Struct:
		r.writeRecord(tw, v)
	case reflect.Slice, reflect.Array:
		r.writeRows(tw, v)
	default:
		fmt.Fprintf(tw, "%v\n", data)
	}
	return tw.Flush()
}

// field is one exported struct field under its json name.
type field struct {
	name      string
	omitEmpty bool
	value     reflect.Value
}

func fieldsOf(v reflect.Value) []field {
	t := v.Type()
	out := make([]field, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		out = append(out, field{
			name:      name,
			omitEmpty: strings.Contains(opts, "omitempty"),
			value:     v.Field(i),
		})
	}
	return out
}

func (r *Renderer) writeRecord(w io.Writer, v reflect.Value) {
	var lists []field
	for _, f := range fieldsOf(v) {
		if isRowList(f.value) {
			lists = append(lists, f)
			continue
		}
		if f.omitEmpty && f.value.IsZero() {
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", f.name, r.cell(f, true))
	}
	for _, f := range lists {
		fmt.Fprintf(w, "\n%s:\n", f.name)
		r.writeRows(w, f.value)
	}
}

// isRowList reports whether v is a slice of structs other than time.Time.
func isRowList(v reflect.Value) bool {
	if v.Kind() != reflect.Slice {
		return false
	}
	elem := v.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	return elem.Kind() == reflect.Struct && elem != reflect.TypeOf(time.Time{})
}

func (r *Renderer) writeRows(w io.Writer, v reflect.Value) {
	if v.Len() == 0 {
		fmt.Fprintln(w, "(no results)")
		return
	}
	if !isRowList(v) {
		for i := range v.Len() {
			fmt.Fprintln(w, formatValue(v.Index(i)))
		}
		return
	}

	var header []string
	for i := range v.Len() {
		row := reflect.Indirect(v.Index(i))
		if !row.IsValid() {
			continue
		}
		fields := fieldsOf(row)
		if header == nil {
			for _, f := range fields {
				header = append(header, strings.ToUpper(f.name))
			}
			fmt.Fprintln(w, strings.Join(header, "\t"))
		}
		cells := make([]string, len(fields))
		for j, f := range fields {
			cells[j] = r.cell(f, j == len(fields)-1)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}

// cell formats one value. A "success" bool renders as pass/fail.
func (r *Renderer) cell(f field, last bool) string {
	if f.name == "success" && f.value.Kind() == reflect.Bool {
		return r.status(f.value.Bool(), last)
	}
	return formatValue(f.value)
}

// status colors only the last column; tabwriter counts escape bytes as width.
func (r *Renderer) status(ok, colorable bool) string {
	text, style := "fail", tui.ErrorStyle
	if ok {
		text, style = "pass", tui.SuccessStyle
	}
	if r.noColor || !colorable {
		return text
	}
	return style.Render(text)
}

func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case reflect.Map:
		return formatMap(v)
	case reflect.Slice, reflect.Array:
		if isRowList(v) {
			return fmt.Sprintf("[%d items]", v.Len())
		}
		parts := make([]string, v.Len())
		for i := range v.Len() {
			parts[i] = formatValue(v.Index(i))
		}
		return strings.Join(parts, ", ")
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// formatMap renders a map as "k=v" pairs sorted by key.
func formatMap(v reflect.Value) string {
	pairs := make([]string, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, fmt.Sprintf("%v=%s", iter.Key().Interface(), formatValue(iter.Value())))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ", ")
}
