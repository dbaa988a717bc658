package connector

import (
	"bytes"
	"encoding/json"
)

// Splitter turns one event into the units that get delivered. Implementations
// must not modify the event and must return at least one unit.
type Splitter interface {
	Split(e Event) []Unit
}

// IdentitySplitter delivers the event payload as a single unit.
type IdentitySplitter struct{}

func (IdentitySplitter) Split(e Event) []Unit {
	return []Unit{{
		Routing: e.Routing,
		Index:   0,
		Total:   1,
		Items:   e.Items(),
		Body:    cloneRaw(e.Payload),
	}}
}

// Encoder builds a request body from a batch of items.
type Encoder func(items []json.RawMessage) []byte

// BatchSplitter groups the event items into batches of at most MaxBatch,
// keeping their order. An event without items still yields one empty unit.
type BatchSplitter struct {
	MaxBatch int
	Encode   Encoder
}

func (s BatchSplitter) Split(e Event) []Unit {
	items := e.Items()
	size := s.MaxBatch
	if size < 1 {
		size = 1
	}
	encode := s.Encode
	if encode == nil {
		encode = EncodeJSONArray
	}

	if len(items) == 0 {
		return []Unit{{Routing: e.Routing, Total: 1, Body: encode(nil)}}
	}

	total := (len(items) + size - 1) / size
	units := make([]Unit, 0, total)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batch := make([]json.RawMessage, end-start)
		copy(batch, items[start:end])
		units = append(units, Unit{
			Routing: e.Routing,
			Index:   len(units),
			Total:   total,
			Items:   batch,
			Body:    encode(batch),
		})
	}
	return units
}

// EncodeJSONArray encodes items as a JSON array.
func EncodeJSONArray(items []json.RawMessage) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(it)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

const (
	hecSource     = "eventing"
	hecSourceType = "Insights event"
)

// EncodeHEC wraps each item in a Splunk HEC envelope and concatenates them,
// which is the HEC batch format.
func EncodeHEC(items []json.RawMessage) []byte {
	var buf bytes.Buffer
	for _, it := range items {
		buf.WriteString(`{"event":`)
		buf.Write(it)
		buf.WriteString(`,"source":"` + hecSource + `","sourcetype":"` + hecSourceType + `"}`)
	}
	return buf.Bytes()
}
