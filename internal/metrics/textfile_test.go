package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nugget/amswatch/internal/ams"
	"github.com/nugget/amswatch/internal/snapshot"
)

func testSnapshot() snapshot.Status {
	return snapshot.Status{
		LastUpdated:   "2026-10-17T12:00:00.000000+00:00",
		PrinterSerial: "01P00A123456789",
		Trays: []ams.Tray{
			{TrayID: "0", TrayType: "PLA", TraySubBrands: "PLA Basic", TrayColor: "FF0000FF", Remain: 80},
			{TrayID: "0", TrayType: "PETG", TraySubBrands: "PETG HF", TrayColor: "000000FF", Remain: 12.5},
		},
	}
}

func TestCollector_Trays(t *testing.T) {
	expected := `
# HELP amswatch_trays Number of AMS trays reported in the last snapshot.
# TYPE amswatch_trays gauge
amswatch_trays 2
`
	if err := testutil.CollectAndCompare(NewCollector(testSnapshot()), strings.NewReader(expected), "amswatch_trays"); err != nil {
		t.Error(err)
	}
}

func TestCollector_TrayRemain(t *testing.T) {
	expected := `
# HELP amswatch_tray_remain_percent Filament remaining in an AMS tray, in percent. -1 means unknown.
# TYPE amswatch_tray_remain_percent gauge
amswatch_tray_remain_percent{color="FF0000FF",slot="0",sub_brand="PLA Basic",tray_id="0",tray_type="PLA"} 80
amswatch_tray_remain_percent{color="000000FF",slot="1",sub_brand="PETG HF",tray_id="0",tray_type="PETG"} 12.5
`
	if err := testutil.CollectAndCompare(NewCollector(testSnapshot()), strings.NewReader(expected), "amswatch_tray_remain_percent"); err != nil {
		t.Error(err)
	}
}

func TestCollector_LastUpdate(t *testing.T) {
	expected := `
# HELP amswatch_last_update_timestamp_seconds Unix time of the last successful snapshot.
# TYPE amswatch_last_update_timestamp_seconds gauge
amswatch_last_update_timestamp_seconds 1.7922384e+09
`
	if err := testutil.CollectAndCompare(NewCollector(testSnapshot()), strings.NewReader(expected), "amswatch_last_update_timestamp_seconds"); err != nil {
		t.Error(err)
	}
}

func TestCollector_Count(t *testing.T) {
	tests := []struct {
		name string
		snap snapshot.Status
		want int
	}{
		// 2 trays + trays + last_update + build_info
		{"full", testSnapshot(), 5},
		// trays + build_info; unparseable timestamp is skipped
		{"empty", snapshot.Status{LastUpdated: "garbage"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.CollectAndCount(NewCollector(tt.snap)); got != tt.want {
				t.Errorf("CollectAndCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amswatch.prom")

	if err := WriteTextfile(path, testSnapshot()); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		"amswatch_trays 2",
		`amswatch_tray_remain_percent{color="FF0000FF",slot="0",sub_brand="PLA Basic",tray_id="0",tray_type="PLA"} 80`,
		"# TYPE amswatch_build_info gauge",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTextfile_BadDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "amswatch.prom")
	if err := WriteTextfile(path, testSnapshot()); err == nil {
		t.Error("WriteTextfile into a missing directory should error")
	}
}
