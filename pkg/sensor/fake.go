package sensor

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
)

const fakeMarking = "SFA30-SIMULATION"

// FakeSensor produces plausible indoor readings without any hardware.
type FakeSensor struct {
	measuring bool
	mu        sync.Mutex
}

func NewFakeSensor(cfg config.Config) (Sensor, error) {
	return &FakeSensor{}, nil
}

func (f *FakeSensor) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measuring = false
	return nil
}

func (f *FakeSensor) DeviceMarking() (string, error) { return fakeMarking, nil }

func (f *FakeSensor) StartContinuousMeasurement() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measuring = true
	return nil
}

func (f *FakeSensor) ReadMeasuredValues() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.measuring {
		return Reading{}, errors.New("sfa3x: measurement not started")
	}
	// quantise the same way the device does
	return Reading{
		HCHO:        countToHCHO(uint16(rand.Intn(500))),
		Humidity:    countToHumidity(uint16(3000 + rand.Intn(4000))),
		Temperature: countToTemperature(uint16(3600 + rand.Intn(2000))),
		Timestamp:   time.Now(),
	}, nil
}

func (f *FakeSensor) StopMeasurement() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.measuring = false
	return nil
}

func (f *FakeSensor) Close() error { return nil }
