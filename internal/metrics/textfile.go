// Package metrics renders an AMS snapshot as Prometheus gauges and
// writes them to a file for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/amswatch/internal/buildinfo"
	"github.com/nugget/amswatch/internal/snapshot"
)

var (
	trayRemainDesc = prometheus.NewDesc(
		"amswatch_tray_remain_percent",
		"Filament remaining in an AMS tray, in percent. -1 means unknown.",
		[]string{"slot", "tray_id", "tray_type", "sub_brand", "color"}, nil,
	)
	traysDesc = prometheus.NewDesc(
		"amswatch_trays",
		"Number of AMS trays reported in the last snapshot.",
		nil, nil,
	)
	lastUpdateDesc = prometheus.NewDesc(
		"amswatch_last_update_timestamp_seconds",
		"Unix time of the last successful snapshot.",
		nil, nil,
	)
	buildInfoDesc = prometheus.NewDesc(
		"amswatch_build_info",
		"Build information for the amswatch binary.",
		[]string{"version", "commit"}, nil,
	)
)

// Collector exposes a single snapshot as constant metrics.
type Collector struct {
	snap snapshot.Status
}

// NewCollector returns a Collector for snap.
func NewCollector(snap snapshot.Status) *Collector {
	return &Collector{snap: snap}
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- trayRemainDesc
	ch <- traysDesc
	ch <- lastUpdateDesc
	ch <- buildInfoDesc
}

// Collect implements [prometheus.Collector]. Trays are labelled by
// their position in the snapshot since tray IDs repeat across AMS
// units.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i, t := range c.snap.Trays {
		ch <- prometheus.MustNewConstMetric(trayRemainDesc, prometheus.GaugeValue, t.Remain,
			strconv.Itoa(i), t.TrayID, t.TrayType, t.TraySubBrands, t.TrayColor)
	}
	ch <- prometheus.MustNewConstMetric(traysDesc, prometheus.GaugeValue, float64(len(c.snap.Trays)))

	if ts, err := time.Parse(snapshot.TimestampLayout, c.snap.LastUpdated); err == nil {
		ch <- prometheus.MustNewConstMetric(lastUpdateDesc, prometheus.GaugeValue, float64(ts.Unix()))
	}

	ch <- prometheus.MustNewConstMetric(buildInfoDesc, prometheus.GaugeValue, 1,
		buildinfo.Version, buildinfo.GitCommit)
}

// WriteTextfile writes the metrics for snap to path. The client library
// writes a temporary file and renames it into place, so a concurrent
// scrape never sees a partial file.
func WriteTextfile(path string, snap snapshot.Status) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(snap)); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
