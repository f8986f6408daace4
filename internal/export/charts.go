package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"telemetry-dashboard/internal/models"
)

// missingPoint маркер пропуска, ECharts разрывает линию на "-"
const missingPoint = "-"

// ChartPage строит страницу с линейным графиком на каждый канал
func ChartPage(s models.Series) *components.Page {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	labels := make([]string, s.Len())
	for i := range labels {
		labels[i] = s.Label(i).Format("15:04:05")
	}

	for _, c := range models.Channels() {
		page.AddCharts(channelLine(s, c, labels))
	}
	return page
}

func channelLine(s models.Series, c models.Channel, labels []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "macarons"}),
		charts.WithTitleOpts(opts.Title{
			Title:    c.Title(),
			Subtitle: c.Unit(),
		}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{
				Rotate: 45,
			},
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    opts.Bool(true),
			Trigger: "axis",
		}),
	)

	line.SetXAxis(labels)
	line.AddSeries(c.String(), lineItems(s.Column(c)))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

// lineItems переводит показания в точки графика
func lineItems(readings []models.Reading) []opts.LineData {
	items := make([]opts.LineData, 0, len(readings))
	for _, r := range readings {
		if !r.Valid {
			items = append(items, opts.LineData{Value: missingPoint})
			continue
		}
		items = append(items, opts.LineData{Value: r.Value})
	}
	return items
}

// WriteChartPage рендерит HTML страницу графиков
func WriteChartPage(w io.Writer, s models.Series) error {
	if err := ChartPage(s).Render(w); err != nil {
		return fmt.Errorf("failed to render charts: %w", err)
	}
	return nil
}
