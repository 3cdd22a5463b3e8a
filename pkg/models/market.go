package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bar is an OHLCV record as returned by the gateway. Values are passed
// through without range checks. Raw keeps the record exactly as received;
// T is zero when the gateway's timestamp is not in a recognized layout.
type Bar struct {
	T   time.Time       `json:"t"`
	O   float64         `json:"o"`
	H   float64         `json:"h"`
	L   float64         `json:"l"`
	C   float64         `json:"c"`
	V   float64         `json:"v"`
	Raw json.RawMessage `json:"-"`
}

// barTimeLayouts are tried in order; a layout without a zone is read as UTC.
var barTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (b *Bar) UnmarshalJSON(data []byte) error {
	var wire struct {
		T interface{} `json:"t"`
		O float64     `json:"o"`
		H float64     `json:"h"`
		L float64     `json:"l"`
		C float64     `json:"c"`
		V float64     `json:"v"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*b = Bar{O: wire.O, H: wire.H, L: wire.L, C: wire.C, V: wire.V}
	b.Raw = append(json.RawMessage(nil), data...)
	if ts, ok := wire.T.(string); ok {
		b.T = parseBarTime(ts)
	}
	return nil
}

func parseBarTime(s string) time.Time {
	for _, layout := range barTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

type BarUnit int

const (
	BarUnitSecond BarUnit = 1
	BarUnitMinute BarUnit = 2
	BarUnitHour   BarUnit = 3
	BarUnitDay    BarUnit = 4
	BarUnitWeek   BarUnit = 5
	BarUnitMonth  BarUnit = 6
)

var barUnitNames = [...]string{"", "second", "minute", "hour", "day", "week", "month"}

func (u BarUnit) String() string {
	if u >= BarUnitSecond && u <= BarUnitMonth {
		return barUnitNames[u]
	}
	return fmt.Sprintf("BarUnit(%d)", int(u))
}

func ParseBarUnit(s string) (BarUnit, error) {
	want := strings.TrimSuffix(strings.ToLower(s), "s")
	for i, name := range barUnitNames {
		if name != "" && name == want {
			return BarUnit(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bar unit %q", s)
}

type HistoryQuery struct {
	ContractID        string
	StartTime         time.Time
	EndTime           time.Time
	Unit              BarUnit
	UnitNumber        int
	Limit             int
	IncludePartialBar bool // also return the bar still being built
}

// LiveMessage is one inbound frame from a live-data socket. Data always holds
// well-formed JSON.
type LiveMessage struct {
	Symbol     string
	ReceivedAt time.Time
	Data       json.RawMessage
}

func (m LiveMessage) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}
