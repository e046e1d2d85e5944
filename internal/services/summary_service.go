package services

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/stat"

	"travel-time/internal/config"
	"travel-time/internal/models"
)

// ThresholdResult is the congestion count of one threshold in one window
type ThresholdResult struct {
	Name    string
	Ratio   float64
	Count   int
	Percent int
}

// WindowSummary is the report block of one window
type WindowSummary struct {
	Window         models.TimeWindow
	Segments       int
	PercentOfTotal int
	Thresholds     []ThresholdResult
	MeanRatio      float64
	StdDevRatio    float64
}

// ReportHeader identifies the run a report describes
type ReportHeader struct {
	Vehicle       string
	Period        string
	Year          string
	TotalSegments int
	// ReferenceLabel names the ratio denominator, e.g. "posted speed"
	ReferenceLabel string
}

// WholePercent returns part/whole as a whole percentage rounded half away
// from zero; a zero whole yields 0
func WholePercent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

// Congested reports whether ratio counts as congested against threshold
func Congested(ratio, threshold float64, comparison string) bool {
	if comparison == config.CompareInclusive {
		return ratio <= threshold
	}
	return ratio < threshold
}

// Summarize computes the report block for one window. Percent of total is
// relative to totalSegments; threshold percents are relative to the
// segments with data.
func Summarize(agg models.WindowAggregate, totalSegments int, thresholds []config.ThresholdConfig, comparison string) WindowSummary {
	ratios := agg.Ratios()
	summary := WindowSummary{
		Window:         agg.Window,
		Segments:       len(ratios),
		PercentOfTotal: WholePercent(len(ratios), totalSegments),
		Thresholds:     make([]ThresholdResult, 0, len(thresholds)),
	}

	for _, t := range thresholds {
		count := 0
		for _, r := range ratios {
			if Congested(r, t.Ratio, comparison) {
				count++
			}
		}
		summary.Thresholds = append(summary.Thresholds, ThresholdResult{
			Name:    t.Name,
			Ratio:   t.Ratio,
			Count:   count,
			Percent: WholePercent(count, len(ratios)),
		})
	}

	if len(ratios) > 0 {
		summary.MeanRatio = stat.Mean(ratios, nil)
	}
	if len(ratios) > 1 {
		summary.StdDevRatio = stat.StdDev(ratios, nil)
	}
	return summary
}

func thresholdLabel(ratio float64) string {
	return fmt.Sprintf("%g%%", math.Round(ratio*10000)/100)
}

// RenderReport writes the fixed-format text report
func RenderReport(w io.Writer, header ReportHeader, summaries []WindowSummary, comparison string) error {
	bw := bufio.NewWriter(w)

	reference := header.ReferenceLabel
	if reference == "" {
		reference = "posted speed"
	}
	under := "under"
	if comparison == config.CompareInclusive {
		under = "at or under"
	}

	fmt.Fprintf(bw, "Summary results for %s traffic message channels (TMC)\n", header.Vehicle)
	fmt.Fprintf(bw, "Analysis Period: %s\n", header.Period)
	fmt.Fprintf(bw, "Analysis Year: %s\n", header.Year)
	fmt.Fprintf(bw, "Total Number of TMC segments: %d\n", header.TotalSegments)

	for _, s := range summaries {
		fmt.Fprintf(bw, " \n")
		fmt.Fprintf(bw, "Summary of Data for: %s (%s-%s)\n", s.Window.Label, models.ClockString(s.Window.StartMinute), models.ClockString(s.Window.EndMinute))
		fmt.Fprintf(bw, " \n")
		fmt.Fprintf(bw, "  --- Total Number of TMC segments with data: %d\n", s.Segments)
		fmt.Fprintf(bw, "  --- %% of Total TMC segments with data: %d%%\n", s.PercentOfTotal)
		for _, t := range s.Thresholds {
			label := thresholdLabel(t.Ratio)
			fmt.Fprintf(bw, " \n")
			fmt.Fprintf(bw, "  --- Total Number of TMC segments %s %s of the %s (%s): %d\n", under, label, reference, t.Name, t.Count)
			fmt.Fprintf(bw, "  --- %% of TMC segments %s %s of the %s (%s): %d%%\n", under, label, reference, t.Name, t.Percent)
		}
		fmt.Fprintf(bw, " \n")
		fmt.Fprintf(bw, "  --- Mean speed ratio: %.2f\n", s.MeanRatio)
		fmt.Fprintf(bw, "  --- Standard deviation of speed ratio: %.2f\n", s.StdDevRatio)
	}

	return bw.Flush()
}
