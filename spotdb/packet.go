package spotdb

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// DateTime is a timestamp inside a stored envelope. It marshals as the
// store's tagged object form, {"__type__":"datetime","value":<epoch>},
// with the epoch in fractional seconds.
type DateTime struct {
	time.Time
}

type taggedValue struct {
	Type  string          `json:"__type__"`
	Value json.RawMessage `json:"value"`
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	epoch := float64(d.UnixNano()) / float64(time.Second)
	return json.Marshal(map[string]any{"__type__": "datetime", "value": epoch})
}

func (d *DateTime) UnmarshalJSON(raw []byte) error {
	var tag taggedValue
	if err := json.Unmarshal(raw, &tag); err != nil {
		return err
	}
	if tag.Type != "datetime" {
		return fmt.Errorf("tagged value is %q, want datetime", tag.Type)
	}
	var epoch float64
	if err := json.Unmarshal(tag.Value, &epoch); err != nil {
		return err
	}
	sec, frac := math.Modf(epoch)
	d.Time = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	return nil
}

// Set is a collection of strings inside a stored envelope. It marshals as
// {"__type__":"set","value":[...]} with the values sorted, so envelopes
// compare stable byte for byte.
type Set []string

func (s Set) MarshalJSON() ([]byte, error) {
	values := append([]string(nil), s...)
	sort.Strings(values)
	return json.Marshal(map[string]any{"__type__": "set", "value": values})
}

func (s *Set) UnmarshalJSON(raw []byte) error {
	var tag taggedValue
	if err := json.Unmarshal(raw, &tag); err != nil {
		return err
	}
	if tag.Type != "set" {
		return fmt.Errorf("tagged value is %q, want set", tag.Type)
	}
	var values []string
	if err := json.Unmarshal(tag.Value, &values); err != nil {
		return err
	}
	sort.Strings(values)
	*s = values
	return nil
}

// Envelope is the remnant of the decode that produced a sighting, enough
// to rebuild a reply that echoes the original on-air report.
type Envelope struct {
	Time           DateTime `json:"Time"`
	SNR            int32    `json:"SNR"`
	DeltaTime      float64  `json:"DeltaTime"`
	DeltaFrequency uint32   `json:"DeltaFrequency"`
	Mode           string   `json:"Mode"`
	Message        string   `json:"Message"`
	LowConfidence  bool     `json:"LowConfidence"`
}

// Value stores the envelope as its JSON text.
func (e Envelope) Value() (driver.Value, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan restores an envelope from its JSON text. A NULL column leaves the
// envelope zero.
func (e *Envelope) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = Envelope{}
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	}
	return fmt.Errorf("cannot scan %T into Envelope", src)
}
