// Package oscilloscope provides type and interface definitions for oscilloscopes
package oscilloscope

import (
	"bufio"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
)

// Waveform describes a waveform recording from a scope
type Waveform struct {
	// DT is the temporal sample spacing in seconds
	DT float64 `json:"dt"`

	// Channels holds named data streams
	Channels map[string]Channel
}

// Channel represents a stream of data from an ADC.  To convert to physical units,
// compute (data-reference)*scale + offset
type Channel struct {
	// Data is the actual buffer, []int8, []int16, or similar
	Data Data

	// Scale is the size of a single increment in Data's native dtype
	Scale float64

	// Offset is the offset applied to the data
	Offset float64

	// Reference is the reference value for the given channel in DN
	Reference float64
}

// Data is a moniker for an empty interface, expected to be a slice of a concrete
// numerical type
type Data interface{}

// Physical computes the data scaled to real units
func (c Channel) Physical() []float64 {
	switch v := c.Data.(type) {
	case []int8:
		ret := make([]float64, len(v))
		for i := 0; i < len(v); i++ {
			ret[i] = ((float64(v[i]) - c.Reference) * c.Scale) + c.Offset
		}
		return ret
	case []int16:
		ret := make([]float64, len(v))
		for i := 0; i < len(v); i++ {
			ret[i] = ((float64(v[i]) - c.Reference) * c.Scale) + c.Offset
		}
		return ret
	case []uint16:
		ret := make([]float64, len(v))
		for i := 0; i < len(v); i++ {
			ret[i] = ((float64(v[i]) - c.Reference) * c.Scale) + c.Offset
		}
		return ret
	case []float64:
		ret := make([]float64, len(v))
		for i := 0; i < len(v); i++ {
			ret[i] = ((v[i] - c.Reference) * c.Scale) + c.Offset
		}
		return ret
	default:
		panic("attempt to convert non numerical data to physical units")
	}
}

// EncodeCSV converts the waveform data to physical units
// and writes it to a CSV in streaming fashion.  Channels are emitted
// in sorted name order so output is deterministic.
func (wav *Waveform) EncodeCSV(w io.Writer) error {
	labels := make([]string, 0, len(wav.Channels))
	for k := range wav.Channels {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	data := make([][]float64, len(labels))
	for j := range labels {
		data[j] = wav.Channels[labels[j]].Physical()
	}

	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	row := append([]string{"time"}, labels...)
	if err := cw.Write(row); err != nil {
		return err
	}
	for i := 0; i < len(data[0]); i++ {
		row[0] = strconv.FormatFloat(float64(i)*wav.DT, 'G', -1, 64)
		for j := 0; j < len(data); j++ {
			row[j+1] = strconv.FormatFloat(data[j][i], 'G', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
