package textfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
)

func TestTextfilePublish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sfa3x.prom")
	out, err := NewTextfile(config.TextfileConfig{Path: path}, "iotSFA")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r := sensor.Reading{HCHO: 26, Humidity: 49.5, Temperature: -0.5, Timestamp: time.Unix(1709294400, 0)}
	if err := out.Publish(r); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := string(b)
	for _, want := range []string{
		`sfa3x_formaldehyde_ppb{sensor_id="iotSFA"} 26`,
		`sfa3x_relative_humidity_percent{sensor_id="iotSFA"} 49.5`,
		`sfa3x_temperature_celsius{sensor_id="iotSFA"} -0.5`,
		`sfa3x_last_reading_timestamp_seconds{sensor_id="iotSFA"} 1.7092944e+09`,
		"# TYPE sfa3x_formaldehyde_ppb gauge",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestTextfilePublishBadPath(t *testing.T) {
	out, err := NewTextfile(config.TextfileConfig{Path: filepath.Join(t.TempDir(), "missing", "x.prom")}, "iotSFA")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := out.Publish(sensor.Reading{Timestamp: time.Now()}); err == nil {
		t.Fatalf("expected error writing into a missing directory")
	}
}
