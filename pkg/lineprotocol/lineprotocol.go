// Package lineprotocol renders SFA3x readings as InfluxDB line protocol:
//
//	measurement,tag=value hcho_concentration=1.0,temperatureSFA30=2.00,humiditySFA30=3.00 1700000000
package lineprotocol

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ericogr/sfa3x-to-influx/pkg/sensor"
)

// Field keys as written by the original hchoSensor deployment. Dashboards
// query these names, so they are part of the wire format.
const (
	FieldHCHO        = "hcho_concentration"
	FieldTemperature = "temperatureSFA30"
	FieldHumidity    = "humiditySFA30"

	TagSensorID = "sensor_id"
)

type Tag struct {
	Key   string
	Value string
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	keyEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
)

// Format returns one line (without trailing newline). Tags are sorted by key
// and tags with an empty value are dropped since InfluxDB rejects them. The
// timestamp has second precision.
func Format(measurement string, tags []Tag, r sensor.Reading) string {
	sorted := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if t.Key != "" && t.Value != "" {
			sorted = append(sorted, t)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(measurementEscaper.Replace(measurement))
	for _, t := range sorted {
		b.WriteByte(',')
		b.WriteString(keyEscaper.Replace(t.Key))
		b.WriteByte('=')
		b.WriteString(keyEscaper.Replace(t.Value))
	}
	b.WriteByte(' ')
	b.WriteString(FieldHCHO)
	b.WriteByte('=')
	b.WriteString(strconv.FormatFloat(r.HCHO, 'f', 1, 64))
	b.WriteByte(',')
	b.WriteString(FieldTemperature)
	b.WriteByte('=')
	b.WriteString(strconv.FormatFloat(r.Temperature, 'f', 2, 64))
	b.WriteByte(',')
	b.WriteString(FieldHumidity)
	b.WriteByte('=')
	b.WriteString(strconv.FormatFloat(r.Humidity, 'f', 2, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(r.Timestamp.Unix(), 10))
	return b.String()
}
