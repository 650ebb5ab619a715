// Package textfile exports readings as Prometheus gauges into a file picked
// up by node_exporter's textfile collector. This suits a one-shot program run
// from cron where nothing stays around to be scraped.
package textfile

import (
	"fmt"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/output"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
	"github.com/prometheus/client_golang/prometheus"
)

type TextfileOutput struct {
	path        string
	registry    *prometheus.Registry
	hcho        prometheus.Gauge
	humidity    prometheus.Gauge
	temperature prometheus.Gauge
	lastReading prometheus.Gauge
}

func NewTextfile(cfg config.TextfileConfig, sensorID string) (output.Output, error) {
	labels := prometheus.Labels{"sensor_id": sensorID}
	t := &TextfileOutput{
		path:     cfg.Path,
		registry: prometheus.NewRegistry(),
		hcho: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sfa3x_formaldehyde_ppb",
			Help:        "Formaldehyde concentration in parts per billion",
			ConstLabels: labels,
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sfa3x_relative_humidity_percent",
			Help:        "Relative humidity in percent",
			ConstLabels: labels,
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sfa3x_temperature_celsius",
			Help:        "Temperature in degrees Celsius",
			ConstLabels: labels,
		}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sfa3x_last_reading_timestamp_seconds",
			Help:        "Unix time of the last successful reading",
			ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{t.hcho, t.humidity, t.temperature, t.lastReading} {
		if err := t.registry.Register(c); err != nil {
			return nil, fmt.Errorf("textfile: register: %w", err)
		}
	}
	return t, nil
}

// Publish updates the gauges and rewrites the file atomically.
func (t *TextfileOutput) Publish(r sensor.Reading) error {
	t.hcho.Set(r.HCHO)
	t.humidity.Set(r.Humidity)
	t.temperature.Set(r.Temperature)
	t.lastReading.Set(float64(r.Timestamp.Unix()))
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("textfile: %w", err)
	}
	return nil
}

func (t *TextfileOutput) Close() error { return nil }
