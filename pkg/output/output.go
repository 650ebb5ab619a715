package output

import "github.com/ericogr/sfa3x-to-influx/pkg/sensor"

type Output interface {
	Publish(sensor.Reading) error
	Close() error
}

// helper constructors are in subpackages
