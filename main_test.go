package main

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/lineprotocol"
	"github.com/ericogr/sfa3x-to-influx/pkg/output/influx"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
)

var errDevice = errors.New("i2c: remote I/O error")

// scriptedSensor records every call into calls and fails the operations
// named in fail.
type scriptedSensor struct {
	calls   *[]string
	fail    map[string]bool
	reading sensor.Reading
}

func (s *scriptedSensor) do(name string) error {
	*s.calls = append(*s.calls, name)
	if s.fail[name] {
		return errDevice
	}
	return nil
}

func (s *scriptedSensor) Reset() error { return s.do("reset") }
func (s *scriptedSensor) DeviceMarking() (string, error) {
	return "SFA30-TEST", s.do("marking")
}
func (s *scriptedSensor) StartContinuousMeasurement() error { return s.do("start") }
func (s *scriptedSensor) ReadMeasuredValues() (sensor.Reading, error) {
	return s.reading, s.do("read")
}
func (s *scriptedSensor) StopMeasurement() error { return s.do("stop") }
func (s *scriptedSensor) Close() error           { return nil }

type recordingOutput struct {
	calls *[]string
	err   error
	got   []sensor.Reading
}

func (o *recordingOutput) Publish(r sensor.Reading) error {
	*o.calls = append(*o.calls, "publish")
	o.got = append(o.got, r)
	return o.err
}

func (o *recordingOutput) Close() error { return nil }

var testReading = sensor.Reading{HCHO: 26, Humidity: 49.5, Temperature: 22, Timestamp: time.Unix(1709294400, 0)}

// withSleep replaces the settling sleep with one that records the duration.
func withSleep(t *testing.T, calls *[]string) {
	t.Helper()
	orig := sleep
	sleep = func(d time.Duration) { *calls = append(*calls, "sleep "+d.String()) }
	t.Cleanup(func() { sleep = orig })
}

func TestRunSequence(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	s := &scriptedSensor{calls: &calls, reading: testReading}
	out := &recordingOutput{calls: &calls}

	code := run(config.DefaultConfig(), s, []outputEntry{{Name: "rec", Output: out}})
	if code != exitOK {
		t.Fatalf("exit code %d", code)
	}
	want := []string{"reset", "marking", "start", "sleep 500ms", "read", "publish", "stop"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("sequence:\n got: %v\nwant: %v", calls, want)
	}
	if len(out.got) != 1 || out.got[0] != testReading {
		t.Fatalf("published %+v", out.got)
	}
}

func TestRunResetFailure(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	s := &scriptedSensor{calls: &calls, fail: map[string]bool{"reset": true}}
	out := &recordingOutput{calls: &calls}

	if code := run(config.DefaultConfig(), s, []outputEntry{{Name: "rec", Output: out}}); code != exitDeviceError {
		t.Fatalf("exit code %d; want %d", code, exitDeviceError)
	}
	if !reflect.DeepEqual(calls, []string{"reset"}) {
		t.Fatalf("nothing may follow a failed reset, got %v", calls)
	}
}

func TestRunMarkingFailure(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	s := &scriptedSensor{calls: &calls, fail: map[string]bool{"marking": true}}
	out := &recordingOutput{calls: &calls}

	if code := run(config.DefaultConfig(), s, []outputEntry{{Name: "rec", Output: out}}); code != exitDeviceError {
		t.Fatalf("exit code %d; want %d", code, exitDeviceError)
	}
	if !reflect.DeepEqual(calls, []string{"reset", "marking"}) {
		t.Fatalf("sequence: %v", calls)
	}
}

func TestRunStartFailureContinues(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	s := &scriptedSensor{calls: &calls, fail: map[string]bool{"start": true}, reading: testReading}
	out := &recordingOutput{calls: &calls}

	if code := run(config.DefaultConfig(), s, []outputEntry{{Name: "rec", Output: out}}); code != exitOK {
		t.Fatalf("exit code %d", code)
	}
	want := []string{"reset", "marking", "start", "sleep 500ms", "read", "publish", "stop"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("sequence:\n got: %v\nwant: %v", calls, want)
	}
}

func TestRunReadFailureSkipsPublish(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	s := &scriptedSensor{calls: &calls, fail: map[string]bool{"read": true}}
	out := &recordingOutput{calls: &calls}

	if code := run(config.DefaultConfig(), s, []outputEntry{{Name: "rec", Output: out}}); code != exitOK {
		t.Fatalf("exit code %d", code)
	}
	want := []string{"reset", "marking", "start", "sleep 500ms", "read", "stop"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("sequence:\n got: %v\nwant: %v", calls, want)
	}
}

func TestRunPublishFailureStillStops(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	s := &scriptedSensor{calls: &calls, reading: testReading}
	failing := &recordingOutput{calls: &calls, err: errors.New("connection refused")}
	second := &recordingOutput{calls: &calls}

	code := run(config.DefaultConfig(), s, []outputEntry{{Name: "a", Output: failing}, {Name: "b", Output: second}})
	if code != exitOK {
		t.Fatalf("exit code %d", code)
	}
	want := []string{"reset", "marking", "start", "sleep 500ms", "read", "publish", "publish", "stop"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("sequence:\n got: %v\nwant: %v", calls, want)
	}
}

func TestRunSettleDuration(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	cfg := config.DefaultConfig()
	cfg.SettleMs = 1500
	s := &scriptedSensor{calls: &calls, reading: testReading}

	run(cfg, s, nil)
	if calls[3] != "sleep 1.5s" {
		t.Fatalf("settle sleep: %v", calls)
	}
}

func TestRunInfluxServerErrorStillStops(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		http.Error(w, `{"code":"internal error","message":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Influx.URL = srv.URL
	tags := []lineprotocol.Tag{{Key: lineprotocol.TagSensorID, Value: cfg.SensorID}}
	out, err := influx.NewInflux(cfg.Influx, cfg.Measurement, tags)
	if err != nil {
		t.Fatalf("influx: %v", err)
	}
	s := &scriptedSensor{calls: &calls, reading: testReading}

	if code := run(cfg, s, []outputEntry{{Name: "influx", Output: out}}); code != exitOK {
		t.Fatalf("exit code %d", code)
	}
	if calls[len(calls)-1] != "stop" {
		t.Fatalf("stop not called after failed write: %v", calls)
	}
	want := "hchoSensor,sensor_id=iotSFA hcho_concentration=26.0,temperatureSFA30=22.00,humiditySFA30=49.50 1709294400"
	if body != want {
		t.Fatalf("body mismatch:\n got: %q\nwant: %q", body, want)
	}
}

func TestRunWithFakeSensor(t *testing.T) {
	var calls []string
	withSleep(t, &calls)
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorSimulation
	s, err := newSensor(cfg)
	if err != nil {
		t.Fatalf("sensor: %v", err)
	}
	out := &recordingOutput{calls: &calls}
	if code := run(cfg, s, []outputEntry{{Name: "rec", Output: out}}); code != exitOK {
		t.Fatalf("exit code %d", code)
	}
	if len(out.got) != 1 {
		t.Fatalf("expected one reading, got %d", len(out.got))
	}
}

func TestInitOutputs(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Outputs = []string{config.OutputInflux, config.OutputConsole, config.OutputTextfile, config.OutputNATS, "bogus"}
	cfg.Textfile.Path = filepath.Join(t.TempDir(), "sfa3x.prom")
	cfg.NATS.URL = "nats://127.0.0.1:1"

	entries := initOutputs(cfg)
	defer closeOutputs(entries)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	// nats cannot connect and bogus is unknown: both are skipped
	want := []string{config.OutputInflux, config.OutputConsole, config.OutputTextfile}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("outputs: got %v want %v", names, want)
	}
}
