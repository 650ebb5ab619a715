package sensor

import "time"

// Reading is one sample from an SFA3x sensor.
type Reading struct {
	HCHO        float64   `json:"hcho_ppb"`
	Humidity    float64   `json:"humidity_rh"`
	Temperature float64   `json:"temperature_c"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sensor is the set of device operations the measurement procedure drives.
type Sensor interface {
	Reset() error
	DeviceMarking() (string, error)
	StartContinuousMeasurement() error
	ReadMeasuredValues() (Reading, error)
	StopMeasurement() error
	Close() error
}
