package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/plugin"
)

// fetchBatch bounds the identities asked for in one DATA_GET_MANY call.
const fetchBatch = 200

// JSONReporter dumps the whole audit database to a JSON file.
type JSONReporter struct {
	plugin.Base
}

// NewJSONReporter creates the report/json plugin.
func NewJSONReporter() *JSONReporter { return &JSONReporter{} }

func (*JSONReporter) Name() string              { return "report/json" }
func (*JSONReporter) Category() plugin.Category { return plugin.CategoryReport }

// AcceptedInfo is empty: reporters never receive audit data.
func (*JSONReporter) AcceptedInfo() []data.Tag { return []data.Tag{} }

func (*JSONReporter) IsSupported(outputFile string) bool {
	return strings.EqualFold(filepath.Ext(outputFile), ".json")
}

type jsonReport struct {
	Audit     string         `json:"audit"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	StopTime  *time.Time     `json:"stop_time,omitempty"`
	Summary   map[string]int `json:"summary"`
	Data      []*data.Record `json:"data"`
}

func (r *JSONReporter) GenerateReport(ctx context.Context, pc *plugin.Context, req message.ReportRequest) error {
	db := pc.Database()

	ids, err := db.Keys(ctx, data.KindAny, "")
	if err != nil {
		return fmt.Errorf("list data: %w", err)
	}

	out := jsonReport{
		Audit:   pc.AuditName(),
		Summary: make(map[string]int),
		Data:    make([]*data.Record, 0, len(ids)),
	}
	if !req.StartTime.IsZero() {
		out.StartTime = &req.StartTime
	}
	if !req.StopTime.IsZero() {
		out.StopTime = &req.StopTime
	}

	for start := 0; start < len(ids); start += fetchBatch {
		end := min(start+fetchBatch, len(ids))
		recs, err := db.GetMany(ctx, ids[start:end])
		if err != nil {
			return fmt.Errorf("fetch data: %w", err)
		}
		for _, rec := range recs {
			if req.OnlyVulns && rec.Kind() != data.KindVulnerability {
				continue
			}
			out.Summary[rec.Kind().String()]++
			out.Data = append(out.Data, rec)
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(req.OutputFile, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	pc.Logf("report written to %s (%d objects)", req.OutputFile, len(out.Data))
	return nil
}
