package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/lineprotocol"
	"github.com/ericogr/sfa3x-to-influx/pkg/output"
	"github.com/ericogr/sfa3x-to-influx/pkg/output/console"
	"github.com/ericogr/sfa3x-to-influx/pkg/output/influx"
	"github.com/ericogr/sfa3x-to-influx/pkg/output/mqtt"
	"github.com/ericogr/sfa3x-to-influx/pkg/output/nats"
	"github.com/ericogr/sfa3x-to-influx/pkg/output/textfile"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
	log "github.com/sirupsen/logrus"
)

const (
	exitOK          = 0
	exitDeviceError = -1
)

// replaced in tests
var sleep = time.Sleep

type outputEntry struct {
	Name   string
	Output output.Output
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	setupLogging(cfg)

	s, err := newSensor(cfg)
	if err != nil {
		log.Fatalf("sensor: %v", err)
	}
	outputs := initOutputs(cfg)

	code := run(cfg, s, outputs)

	// os.Exit skips deferred calls
	closeOutputs(outputs)
	if err := s.Close(); err != nil {
		log.Warnf("close sensor: %v", err)
	}
	os.Exit(code)
}

func setupLogging(cfg config.Config) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
}

func newSensor(cfg config.Config) (sensor.Sensor, error) {
	switch cfg.SensorType {
	case config.SensorSimulation:
		return sensor.NewFakeSensor(cfg)
	case config.SensorReal:
		return sensor.NewSFA3xSensor(cfg)
	}
	return nil, fmt.Errorf("unknown sensor type %q", cfg.SensorType)
}

// initOutputs builds the configured sinks. A sink that cannot be set up (a
// broker that is down, say) is logged and left out so the others still get
// the reading.
func initOutputs(cfg config.Config) []outputEntry {
	tags := []lineprotocol.Tag{{Key: lineprotocol.TagSensorID, Value: cfg.SensorID}}
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for _, name := range cfg.Outputs {
		var (
			o   output.Output
			err error
		)
		switch name {
		case config.OutputInflux:
			o, err = influx.NewInflux(cfg.Influx, cfg.Measurement, tags)
		case config.OutputConsole:
			o = console.NewConsole()
		case config.OutputMQTT:
			o, err = mqtt.NewMQTT(cfg.MQTT, cfg.SensorID)
		case config.OutputNATS:
			o, err = nats.NewNATS(cfg.NATS, cfg.Measurement, tags)
		case config.OutputTextfile:
			o, err = textfile.NewTextfile(cfg.Textfile, cfg.SensorID)
		default:
			err = fmt.Errorf("unknown output type %q", name)
		}
		if err != nil {
			log.WithField("output", name).Errorf("init output: %v", err)
			continue
		}
		entries = append(entries, outputEntry{Name: name, Output: o})
	}
	return entries
}

func closeOutputs(entries []outputEntry) {
	for _, e := range entries {
		if err := e.Output.Close(); err != nil {
			log.WithField("output", e.Name).Warnf("close output: %v", err)
		}
	}
}

// run takes a single sample: reset, read the marking, start measuring, wait
// for the sensor to settle, read, publish, stop. A failed reset or marking
// read aborts with exitDeviceError before anything is measured or sent.
// Later failures are logged and the sequence carries on so that the
// measurement is always stopped.
func run(cfg config.Config, s sensor.Sensor, outputs []outputEntry) int {
	logger := log.WithField("sensor_id", cfg.SensorID)

	if err := s.Reset(); err != nil {
		logger.Errorf("Error resetting device: %v", err)
		return exitDeviceError
	}

	marking, err := s.DeviceMarking()
	if err != nil {
		logger.Errorf("Error getting device marking: %v", err)
		return exitDeviceError
	}
	logger.Infof("Device marking: %s", marking)

	if err := s.StartContinuousMeasurement(); err != nil {
		logger.Errorf("Error starting continuous measurement: %v", err)
	}
	defer func() {
		if err := s.StopMeasurement(); err != nil {
			logger.Errorf("Error stopping measurement: %v", err)
		}
	}()

	sleep(time.Duration(cfg.SettleMs) * time.Millisecond)

	r, err := s.ReadMeasuredValues()
	if err != nil {
		logger.Errorf("Error reading measured values: %v", err)
		return exitOK
	}
	logger.WithFields(log.Fields{
		"hcho_ppb":      r.HCHO,
		"humidity_rh":   r.Humidity,
		"temperature_c": r.Temperature,
	}).Info("measurement")

	for _, e := range outputs {
		if err := e.Output.Publish(r); err != nil {
			logger.WithField("output", e.Name).Errorf("publish: %v", err)
		}
	}
	return exitOK
}
