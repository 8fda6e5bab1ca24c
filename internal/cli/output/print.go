package output

import (
	"encoding/json"
	"io"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintYAML writes v as YAML.
func PrintYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(v)
}

// TableRenderer is implemented by values that can lay themselves out
// as a header row plus data rows.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// TableData collects rows for an ad-hoc table.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData starts a table with the given column headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{headers: headers}
}

// AddRow appends one data row. Cells beyond the header count are kept;
// tablewriter pads short rows.
func (t *TableData) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *TableData) Headers() []string { return t.headers }
func (t *TableData) Rows() [][]string  { return t.rows }

// PrintTable renders data as a borderless, left-aligned table.
func PrintTable(w io.Writer, data TableRenderer) error {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(data.Headers())
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(true)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetCenterSeparator("")
	tw.SetColumnSeparator("")
	tw.SetRowSeparator("")
	tw.SetHeaderLine(false)
	tw.SetBorder(false)
	tw.SetTablePadding("  ")
	tw.SetNoWhiteSpace(true)
	for _, row := range data.Rows() {
		tw.Append(row)
	}
	tw.Render()
	return nil
}
