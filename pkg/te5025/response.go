package te5025

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ResponseKind is the reply grammar a query expects.
type ResponseKind string

const (
	KindNumber     ResponseKind = "number"
	KindPair       ResponseKind = "pair"
	KindBool       ResponseKind = "bool"
	KindWord       ResponseKind = "word"
	KindInteger    ResponseKind = "integer"
	KindErrorEntry ResponseKind = "error"
	KindIdentity   ResponseKind = "identity"
)

// scpiNaN is the value SCPI instruments send for "not a number". Anything at
// or beyond it (9.9E37 is +infinity) is never a real reading.
const scpiNaN = 9.9e37

// ErrorEntry is one entry of the instrument's error queue. Code 0 means the
// queue is empty.
type ErrorEntry struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e ErrorEntry) String() string {
	return strconv.Itoa(e.Code) + ", " + e.Message
}

// Identity is the parsed reply to *IDN?.
type Identity struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
	Firmware     string `json:"firmware"`
}

func (i Identity) String() string {
	return strings.Join([]string{i.Manufacturer, i.Model, i.Serial, i.Firmware}, ",")
}

// Response is a parsed reply. Which fields are set depends on Kind.
type Response struct {
	Query    string       `json:"query"`
	Raw      string       `json:"raw"`
	Kind     ResponseKind `json:"kind"`
	Readings []Reading    `json:"readings,omitempty"`
	Bool     bool         `json:"bool,omitempty"`
	Word     string       `json:"word,omitempty"`
	Integer  int          `json:"integer,omitempty"`
	Error    *ErrorEntry  `json:"error,omitempty"`
	Identity *Identity    `json:"identity,omitempty"`
}

// Reading returns the first numeric value of a number or pair response.
func (r Response) Reading() Reading {
	if len(r.Readings) == 0 {
		return Reading{}
	}
	return r.Readings[0]
}

func (r Response) String() string {
	switch r.Kind {
	case KindNumber:
		return r.Reading().String()
	case KindPair:
		parts := make([]string, 0, len(r.Readings))
		for _, rd := range r.Readings {
			parts = append(parts, rd.String())
		}
		return strings.Join(parts, ", ")
	case KindBool:
		return onOff(r.Bool)
	case KindWord:
		return r.Word
	case KindInteger:
		return strconv.Itoa(r.Integer)
	case KindErrorEntry:
		if r.Error != nil {
			return r.Error.String()
		}
	case KindIdentity:
		if r.Identity != nil {
			return r.Identity.String()
		}
	}
	return r.Raw
}

var (
	errorEntryRe = regexp.MustCompile(`^([+-]?\d+)\s*,\s*(.*)$`)
	wordRe       = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
)

var temperatureSuffixes = map[string]Unit{
	"C":    UnitCelsius,
	"DEGC": UnitCelsius,
	"°C":   UnitCelsius,
	"K":    UnitKelvin,
	"F":    UnitFahrenheit,
	"DEGF": UnitFahrenheit,
	"°F":   UnitFahrenheit,
}

func (u Unit) temperature() bool {
	return u == UnitCelsius || u == UnitKelvin || u == UnitFahrenheit
}

// replyUnit checks a reply's unit suffix against the unit the query
// expects and returns the unit of the reading and the multiplier of any SI
// prefix. Where a temperature is expected, C, K and F are all accepted and
// the reading takes the reported scale.
func replyUnit(suffix string, unit Unit) (Unit, float64, string) {
	if suffix == "" {
		return unit, 1, ""
	}

	if unit == UnitNone || unit.temperature() {
		if u, ok := temperatureSuffixes[strings.ToUpper(suffix)]; ok {
			return u, 1, ""
		}
		return "", 0, fmt.Sprintf("unexpected unit %q", suffix)
	}

	if unit == UnitDegree {
		if strings.EqualFold(suffix, "DEG") || suffix == "°" {
			return unit, 1, ""
		}
		return "", 0, fmt.Sprintf("unexpected unit %q, want %s", suffix, unit.symbol())
	}

	if unitMatches(suffix, unit) {
		return unit, 1, ""
	}
	r, size := utf8.DecodeRuneInString(suffix)
	if mul, ok := prefixMultipliers[r]; ok && unitMatches(suffix[size:], unit) {
		return unit, mul, ""
	}

	return "", 0, fmt.Sprintf("unexpected unit %q, want %s", suffix, unit.symbol())
}

func unitMatches(s string, unit Unit) bool {
	return strings.EqualFold(s, string(unit)) || s == unit.symbol()
}

// parseNumber parses an SCPI NR1/NR2/NR3 number with an optional trailing
// unit suffix, e.g. "+1.000000E+01", "10.0000V", "200mV" or "100.00C". The
// suffix must name the expected unit, optionally with an SI prefix.
func parseNumber(raw string, unit Unit) (Reading, string) {
	s := strings.TrimSpace(raw)
	end := len(s)
	for end > 0 {
		c := s[end-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		end--
	}
	if end == 0 {
		return Reading{}, "no digits"
	}

	suffix := strings.TrimSpace(s[end:])
	if suffix != "" && !isUnitText(suffix) {
		return Reading{}, "unexpected trailing characters"
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s[:end]), 64)
	if err != nil {
		return Reading{}, "not a number"
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) >= scpiNaN {
		return Reading{}, "instrument reported not-a-number"
	}

	u, mul, reason := replyUnit(suffix, unit)
	if reason != "" {
		return Reading{}, reason
	}

	return Reading{Value: v * mul, Unit: u}, ""
}

func parseBool(raw string) (bool, string) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "1", "+1", "ON":
		return true, ""
	case "0", "+0", "OFF":
		return false, ""
	}
	return false, "not a boolean"
}

func parseIdentity(raw string) (*Identity, string) {
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if len(fields) < 2 {
		return nil, "identity needs at least manufacturer and model"
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if fields[0] == "" || fields[1] == "" {
		return nil, "empty manufacturer or model"
	}

	id := &Identity{Manufacturer: fields[0], Model: fields[1]}
	if len(fields) > 2 {
		id.Serial = fields[2]
	}
	if len(fields) > 3 {
		id.Firmware = strings.Join(fields[3:], ",")
	}
	return id, ""
}

func parseErrorEntry(raw string) (*ErrorEntry, string) {
	m := errorEntryRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return nil, `expected <code>,"<message>"`
	}
	code, err := strconv.Atoi(strings.TrimPrefix(m[1], "+"))
	if err != nil {
		return nil, "bad error code"
	}
	msg := strings.TrimSpace(m[2])
	if len(msg) >= 2 && msg[0] == '"' && msg[len(msg)-1] == '"' {
		msg = msg[1 : len(msg)-1]
	}
	return &ErrorEntry{Code: code, Message: msg}, ""
}
