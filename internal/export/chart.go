package export

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// WriteChart renders the series as a self-contained HTML page: a candlestick
// chart with a volume bar overlay on its own hidden axis, plus a zoom slider
// for long series.
func WriteChart(w io.Writer, series Series, theme string) error {
	title := fmt.Sprintf("%s %s", series.Symbol, series.Timeframe)

	init := opts.Initialization{
		PageTitle: title,
		Width:     "1280px",
		Height:    "720px",
	}
	applyChartTheme(&init, theme)

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%d bars", len(series.Bars)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{SplitNumber: 12}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "slider",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
	)

	labels := make([]string, 0, len(series.Bars))
	candles := make([]opts.KlineData, 0, len(series.Bars))
	volumes := make([]opts.BarData, 0, len(series.Bars))
	for i := range series.Bars {
		bar := &series.Bars[i]
		labels = append(labels, bar.Datetime)
		// echarts candlestick value order: open, close, low, high
		candles = append(candles, opts.KlineData{Value: [4]float64{
			bar.Open.InexactFloat64(),
			bar.Close.InexactFloat64(),
			bar.Low.InexactFloat64(),
			bar.High.InexactFloat64(),
		}})
		volumes = append(volumes, opts.BarData{Value: bar.Volume.InexactFloat64()})
	}

	kline.SetXAxis(labels).AddSeries("price", candles)

	volume := charts.NewBar()
	volume.SetXAxis(labels).AddSeries("volume", volumes,
		charts.WithBarChartOpts(opts.BarChart{YAxisIndex: 1}))

	kline.ExtendYAxis(opts.YAxis{Scale: opts.Bool(true), Show: opts.Bool(false)})
	kline.Overlap(volume)

	return kline.Render(w)
}

// applyChartTheme maps a theme name from configuration onto the bundled
// echarts themes. Unknown names fall back to westeros so a typo in a config
// file still produces a readable chart.
func applyChartTheme(init *opts.Initialization, name string) {
	switch name {
	case "chalk":
		init.Theme = types.ThemeChalk
	case "essos":
		init.Theme = types.ThemeEssos
	case "infographic":
		init.Theme = types.ThemeInfographic
	case "macarons":
		init.Theme = types.ThemeMacarons
	case "purple-passion":
		init.Theme = types.ThemePurplePassion
	case "roma":
		init.Theme = types.ThemeRoma
	case "romantic":
		init.Theme = types.ThemeRomantic
	case "shine":
		init.Theme = types.ThemeShine
	case "vintage":
		init.Theme = types.ThemeVintage
	case "walden":
		init.Theme = types.ThemeWalden
	case "wonderland":
		init.Theme = types.ThemeWonderland
	default:
		init.Theme = types.ThemeWesteros
	}
}
