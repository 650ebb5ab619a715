package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/output"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

func (c *ConsoleOutput) Publish(r sensor.Reading) error {
	_, err := fmt.Fprintf(c.w, "%s hcho=%.1fppb humidity=%.2f%%RH temperature=%.2fC\n",
		r.Timestamp.Format(time.RFC3339), r.HCHO, r.Humidity, r.Temperature)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
