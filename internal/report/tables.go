package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/withObsrvr/obsrvr-medallion/internal/warehouse"
)

// TopCitiesChart builds the violence ranking pie chart. The leading city
// is exploded.
func TopCitiesChart(rows []warehouse.CityCount) PieChart {
	c := PieChart{Title: TopCitiesTitle}
	for _, r := range rows {
		c.Slices = append(c.Slices, Slice{Label: r.Name(), Value: float64(r.Count)})
	}
	if len(c.Slices) > 0 {
		c.Explode = []float64{0.1}
	}
	return c
}

// PrintTable renders rows under header as a bordered terminal table.
func PrintTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, r := range rows {
		table.Append(r)
	}
	table.Render()
}

// PrintTopCities prints the violence ranking.
func PrintTopCities(w io.Writer, rows []warehouse.CityCount) {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{r.Name(), fmt.Sprintf("%d", r.Count)}
	}
	PrintTable(w, []string{"ID_CITY", "QTD"}, cells)
}

// PrintBreakdown prints event counts per city and type.
func PrintBreakdown(w io.Writer, rows []warehouse.EventBreakdown) {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = r.Strings()
	}
	PrintTable(w, []string{"ID_CITY", "TIPO_EVENTO", "SUB_TIPO_EVENTO", "QTD"}, cells)
}

// PrintColumns prints a table description.
func PrintColumns(w io.Writer, cols []warehouse.ColumnInfo) {
	cells := make([][]string, len(cols))
	for i, c := range cols {
		cells[i] = []string{c.Name, c.Type}
	}
	PrintTable(w, []string{"col_name", "data_type"}, cells)
}
