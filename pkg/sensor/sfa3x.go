package sensor

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// DefaultAddress is the only I2C address the SFA3x answers on.
const DefaultAddress uint16 = config.DefaultI2CAddress

// MarkingSize is the length of the device marking in characters.
const MarkingSize = 32

// ErrCRC is returned when a word read from the device fails its checksum.
var ErrCRC = errors.New("invalid crc")

type cmd uint16

type command struct {
	cmdWord cmd
	// time the device needs before the response (or next command) is valid
	delay time.Duration
	// number of 16-bit words returned, each followed by a CRC byte on the wire
	responseWords int
}

var (
	cmdDeviceReset = command{cmdWord: 0xd304, delay: 100 * time.Millisecond}
	cmdGetMarking  = command{cmdWord: 0xd060, delay: 2 * time.Millisecond, responseWords: MarkingSize / 2}
	cmdStart       = command{cmdWord: 0x0006, delay: time.Millisecond}
	cmdReadValues  = command{cmdWord: 0x0327, delay: 5 * time.Millisecond, responseWords: 3}
	cmdStop        = command{cmdWord: 0x0104, delay: 50 * time.Millisecond}
)

// SFA3xSensor talks to a Sensirion SFA30 formaldehyde sensor over I2C.
type SFA3xSensor struct {
	dev *i2c.Dev
	bus i2c.Bus
	mu  sync.Mutex
}

// NewSFA3xSensor initialises the host drivers, opens the configured bus and
// returns a sensor bound to it.
func NewSFA3xSensor(cfg config.Config) (Sensor, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	return NewSFA3x(bus, uint16(cfg.I2CAddress)), nil
}

// NewSFA3x returns a sensor on an already opened bus. If the bus is an
// i2c.BusCloser it is closed by Close.
func NewSFA3x(bus i2c.Bus, addr uint16) *SFA3xSensor {
	return &SFA3xSensor{dev: &i2c.Dev{Addr: addr, Bus: bus}, bus: bus}
}

func (s *SFA3xSensor) Close() error {
	if c, ok := s.bus.(i2c.BusCloser); ok {
		return c.Close()
	}
	return nil
}

// Reset performs a soft reset. The device is back in idle mode afterwards.
func (s *SFA3xSensor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sendCommand(cmdDeviceReset)
	return err
}

// DeviceMarking returns the marking printed on the sensor, e.g. the serial.
// The result never exceeds MarkingSize bytes.
func (s *SFA3xSensor) DeviceMarking() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	words, err := s.sendCommand(cmdGetMarking)
	if err != nil {
		return "", err
	}
	return decodeMarking(words), nil
}

func (s *SFA3xSensor) StartContinuousMeasurement() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sendCommand(cmdStart)
	return err
}

// ReadMeasuredValues returns the latest sample. The first valid sample is
// available roughly 500ms after StartContinuousMeasurement.
func (s *SFA3xSensor) ReadMeasuredValues() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	words, err := s.sendCommand(cmdReadValues)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		HCHO:        countToHCHO(words[0]),
		Humidity:    countToHumidity(words[1]),
		Temperature: countToTemperature(words[2]),
		Timestamp:   time.Now(),
	}, nil
}

func (s *SFA3xSensor) StopMeasurement() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.sendCommand(cmdStop)
	return err
}

func (s *SFA3xSensor) String() string {
	return fmt.Sprintf("sfa3x: %s", s.dev.String())
}

// sendCommand writes the command word, waits the command's delay and reads
// back the response words, verifying each CRC.
func (s *SFA3xSensor) sendCommand(c command) ([]uint16, error) {
	w := []byte{byte(c.cmdWord >> 8), byte(c.cmdWord)}
	if err := s.dev.Tx(w, nil); err != nil {
		return nil, fmt.Errorf("sfa3x: cmd 0x%04x: %w", uint16(c.cmdWord), err)
	}
	time.Sleep(c.delay)
	if c.responseWords == 0 {
		return nil, nil
	}

	r := make([]byte, c.responseWords*3)
	if err := s.dev.Tx(nil, r); err != nil {
		return nil, fmt.Errorf("sfa3x: cmd 0x%04x read: %w", uint16(c.cmdWord), err)
	}
	words, err := decodeWords(r)
	if err != nil {
		return nil, fmt.Errorf("sfa3x: cmd 0x%04x: %w", uint16(c.cmdWord), err)
	}
	return words, nil
}

// decodeWords converts the wire format (MSB, LSB, CRC)* into words.
func decodeWords(r []byte) ([]uint16, error) {
	words := make([]uint16, len(r)/3)
	for ix := range words {
		chunk := r[ix*3 : ix*3+3]
		if crc8(chunk[:2]) != chunk[2] {
			return nil, fmt.Errorf("word %d: %w", ix, ErrCRC)
		}
		words[ix] = uint16(chunk[0])<<8 | uint16(chunk[1])
	}
	return words, nil
}

func decodeMarking(words []uint16) string {
	buf := make([]byte, 0, MarkingSize)
	for _, w := range words {
		if len(buf) >= MarkingSize {
			break
		}
		buf = append(buf, byte(w>>8), byte(w))
	}
	if ix := bytes.IndexByte(buf, 0); ix >= 0 {
		buf = buf[:ix]
	}
	return string(buf)
}

func countToHCHO(count uint16) float64 {
	return float64(int16(count)) / 5.0
}

func countToHumidity(count uint16) float64 {
	return float64(int16(count)) / 100.0
}

func countToTemperature(count uint16) float64 {
	return float64(int16(count)) / 200.0
}

var _ Sensor = &SFA3xSensor{}
