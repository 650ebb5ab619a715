package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/ericogr/sfa3x-to-influx/pkg/config"
	"github.com/ericogr/sfa3x-to-influx/pkg/lineprotocol"
	"github.com/ericogr/sfa3x-to-influx/pkg/output"
	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
	"github.com/nats-io/nats.go"
)

const (
	clientName   = "sfa3x-to-influx"
	flushTimeout = 2 * time.Second
)

// NATSOutput publishes the line protocol record on a subject, the format
// Telegraf's nats_consumer input expects by default.
type NATSOutput struct {
	nc          *nats.Conn
	subject     string
	measurement string
	tags        []lineprotocol.Tag
}

func NewNATS(cfg config.NATSConfig, measurement string, tags []lineprotocol.Tag) (output.Output, error) {
	if cfg.Subject == "" {
		return nil, errors.New("nats: empty subject")
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name(clientName), nats.NoReconnect())
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSOutput{nc: nc, subject: cfg.Subject, measurement: measurement, tags: tags}, nil
}

func (n *NATSOutput) Publish(r sensor.Reading) error {
	line := lineprotocol.Format(n.measurement, n.tags, r)
	if err := n.nc.Publish(n.subject, []byte(line)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	// the process exits right after, so make sure the server has it
	if err := n.nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (n *NATSOutput) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
