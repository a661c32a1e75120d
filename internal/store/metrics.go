package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/user/expmirror/pkg/tracking"
)

// MetricIndex is one line of metrics_summary.jsonl.
type MetricIndex struct {
	MetricName string `json:"metricName"`
	FileName   string `json:"fileName"`
	Count      int    `json:"count"`
}

// WriteSplitMetrics writes one file per metric name under dir/metrics and an
// index at dir/metrics_summary.jsonl. Points keep their stream order.
func WriteSplitMetrics(dir string, points []tracking.MetricPoint) (int64, error) {
	var index []MetricIndex
	groups := make(map[string][]tracking.MetricPoint)
	for _, p := range points {
		if _, ok := groups[p.MetricName]; !ok {
			index = append(index, MetricIndex{
				MetricName: p.MetricName,
				FileName:   fmt.Sprintf("%s/metric_%05d.jsonl", MetricsDir, len(index)+1),
			})
		}
		groups[p.MetricName] = append(groups[p.MetricName], p)
	}

	var total int64
	for i := range index {
		rows := groups[index[i].MetricName]
		index[i].Count = len(rows)
		n, err := WriteJSONL(filepath.Join(dir, filepath.FromSlash(index[i].FileName)), rows)
		if err != nil {
			return total, err
		}
		total += n
	}
	n, err := WriteJSONL(filepath.Join(dir, MetricsSummaryFile), index)
	return total + n, err
}

// ReadMetrics returns the union of the combined metrics file and any split
// files listed in the summary index, in file order.
func ReadMetrics(dir string) ([]tracking.MetricPoint, error) {
	var points []tracking.MetricPoint
	appendFile := func(path string) error {
		return EachJSONL(path, func(line []byte) error {
			var p tracking.MetricPoint
			if err := json.Unmarshal(line, &p); err != nil {
				return err
			}
			points = append(points, p)
			return nil
		})
	}

	if err := appendFile(filepath.Join(dir, MetricsFile)); err != nil {
		return nil, err
	}
	index, err := ReadJSONL[MetricIndex](filepath.Join(dir, MetricsSummaryFile))
	if err != nil {
		return nil, err
	}
	for _, entry := range index {
		if err := appendFile(filepath.Join(dir, filepath.FromSlash(Sanitize(entry.FileName)))); err != nil {
			return nil, err
		}
	}
	return points, nil
}
