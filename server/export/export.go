// Package export writes analysis results for download.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/san-kum/rep-integrity/server/models"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Write renders res in the given format.
func Write(w io.Writer, res *models.AnalysisResult, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, res)
	case FormatJSON:
		return WriteJSON(w, res)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

func WriteJSON(w io.Writer, res *models.AnalysisResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write json: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"rep_index", "start_frame", "end_frame", "start_time", "end_time",
	"extremum", "coverage", "form_score", "valid",
}

// WriteCSV writes one row per repetition followed by a summary block of
// key,value rows.
func WriteCSV(w io.Writer, res *models.AnalysisResult) error {
	cw := csv.NewWriter(w)

	rows := [][]string{csvHeader}
	for _, r := range res.Repetitions {
		rows = append(rows, []string{
			strconv.Itoa(r.Index),
			strconv.Itoa(r.StartFrame),
			strconv.Itoa(r.EndFrame),
			formatFloat(r.StartTime),
			formatFloat(r.EndTime),
			formatFloat(r.Extremum),
			formatFloat(r.Coverage),
			formatFloat(r.FormScore),
			strconv.FormatBool(r.Valid),
		})
	}

	rows = append(rows,
		[]string{},
		[]string{"exercise", res.Exercise},
		[]string{"status", string(res.Status)},
		[]string{"total_reps", strconv.Itoa(res.TotalReps)},
		[]string{"valid_reps", strconv.Itoa(res.ValidReps)},
		[]string{"mean_form_score", formatFloat(res.MeanFormScore)},
		[]string{"signal_coverage", formatFloat(res.SignalCoverage)},
	)
	if res.Integrity != nil {
		rows = append(rows,
			[]string{"integrity_score", formatFloat(res.Integrity.Score)},
			[]string{"cheat_flag", strconv.FormatBool(res.Integrity.CheatFlag)},
			[]string{"cheat_policy", string(res.Integrity.Policy)},
		)
		for _, reason := range res.Integrity.Reasons {
			rows = append(rows, []string{"reason", reason})
		}
	} else if res.Reason != "" {
		rows = append(rows, []string{"reason", res.Reason})
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
