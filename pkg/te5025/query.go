package te5025

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Query is a request the instrument answers with one reply. The zero value
// is not valid; use one of the predefined queries or NewQuery.
type Query struct {
	name   string
	header string
	kind   ResponseKind
	units  [2]Unit
}

// Predefined queries.
var (
	QueryIdentity            = Query{name: "identity", header: "*IDN?", kind: KindIdentity}
	QueryError               = Query{name: "error", header: "SYST:ERR?", kind: KindErrorEntry}
	QueryErrorCount          = Query{name: "error-count", header: "SYST:ERR:COUN?", kind: KindInteger}
	QueryFunction            = Query{name: "function", header: "FUNC?", kind: KindWord}
	QueryOutput              = Query{name: "output", header: "OUTP?", kind: KindBool}
	QueryVoltageRange        = Query{name: "voltage-range", header: "VOLT:RANG?", kind: KindNumber, units: [2]Unit{UnitVolt}}
	QueryVoltage             = Query{name: "voltage", header: "VOLT:AMPL?", kind: KindNumber, units: [2]Unit{UnitVolt}}
	QueryCurrentRange        = Query{name: "current-range", header: "CURR:RANG?", kind: KindNumber, units: [2]Unit{UnitAmpere}}
	QueryCurrent             = Query{name: "current", header: "CURR:AMPL?", kind: KindNumber, units: [2]Unit{UnitAmpere}}
	QueryFrequency           = Query{name: "frequency", header: "FREQ?", kind: KindNumber, units: [2]Unit{UnitHertz}}
	QueryResistance          = Query{name: "resistance", header: "RES?", kind: KindNumber, units: [2]Unit{UnitOhm}}
	QueryArbitraryResistance = Query{name: "arbitrary-resistance", header: "SRES?", kind: KindNumber, units: [2]Unit{UnitOhm}}
	QueryCapacitance         = Query{name: "capacitance", header: "CAP?", kind: KindNumber, units: [2]Unit{UnitFarad}}
	QueryInductance          = Query{name: "inductance", header: "IND?", kind: KindNumber, units: [2]Unit{UnitHenry}}
	QueryConductance         = Query{name: "conductance", header: "COND?", kind: KindNumber, units: [2]Unit{UnitSiemens}}
	QueryRTD                 = Query{name: "rtd", header: "RTD?", kind: KindNumber}
	QueryThermocoupleType    = Query{name: "thermocouple-type", header: "THER:TYPE?", kind: KindWord}
	QueryThermocouple        = Query{name: "thermocouple", header: "THER?", kind: KindNumber, units: [2]Unit{UnitCelsius}}
	QueryScopeFrequency      = Query{name: "scope-frequency", header: "PULS:SFR?", kind: KindNumber, units: [2]Unit{UnitHertz}}
	QueryScopePeriod         = Query{name: "scope-period", header: "PULS:SPER?", kind: KindNumber, units: [2]Unit{UnitSecond}}
	QueryPowerParameters     = Query{name: "power-parameters", header: "POW?", kind: KindPair, units: [2]Unit{UnitVolt, UnitAmpere}}
	QueryPowerPhase          = Query{name: "power-phase", header: "POW:PHASE?", kind: KindNumber, units: [2]Unit{UnitDegree}}
	QueryPower               = Query{name: "power", header: "POW:POW?", kind: KindNumber}
	QueryTemperature         = Query{name: "internal-temperature", header: "SYST:MOD:VS:TEMP?", kind: KindNumber, units: [2]Unit{UnitCelsius}}
)

var knownQueries = []Query{
	QueryIdentity,
	QueryError,
	QueryErrorCount,
	QueryFunction,
	QueryOutput,
	QueryVoltageRange,
	QueryVoltage,
	QueryCurrentRange,
	QueryCurrent,
	QueryFrequency,
	QueryResistance,
	QueryArbitraryResistance,
	QueryCapacitance,
	QueryInductance,
	QueryConductance,
	QueryRTD,
	QueryThermocoupleType,
	QueryThermocouple,
	QueryScopeFrequency,
	QueryScopePeriod,
	QueryPowerParameters,
	QueryPowerPhase,
	QueryPower,
	QueryTemperature,
}

// Queries returns the predefined queries.
func Queries() []Query {
	ret := make([]Query, len(knownQueries))
	copy(ret, knownQueries)
	return ret
}

// LookupQuery finds a predefined query by name ("voltage") or header
// ("VOLT:AMPL?"), case-insensitively.
func LookupQuery(name string) (Query, bool) {
	name = strings.TrimSpace(name)
	for _, q := range knownQueries {
		if strings.EqualFold(q.name, name) || strings.EqualFold(q.header, name) {
			return q, true
		}
	}
	return Query{}, false
}

var queryHeaderRe = regexp.MustCompile(`^(\*[A-Z]{3}|[A-Z][A-Z0-9]*(:[A-Z][A-Z0-9]*)*)\?$`)

// NewQuery builds a query for a header not in the predefined table. The
// header must be a bare SCPI query such as "OUTP:PROT?"; parameters are not
// allowed.
func NewQuery(header string, kind ResponseKind, unit Unit) (Query, error) {
	h := strings.ToUpper(strings.TrimSpace(header))
	if !queryHeaderRe.MatchString(h) {
		return Query{}, fmt.Errorf("invalid query header %q", header)
	}
	switch kind {
	case KindNumber, KindBool, KindWord, KindInteger, KindErrorEntry, KindIdentity:
	default:
		return Query{}, fmt.Errorf("unsupported response kind %q for %s", kind, h)
	}
	return Query{name: strings.ToLower(h), header: h, kind: kind, units: [2]Unit{unit}}, nil
}

func (q Query) Name() string       { return q.name }
func (q Query) Header() string     { return q.header }
func (q Query) Kind() ResponseKind { return q.kind }
func (q Query) Unit() Unit         { return q.units[0] }
func (q Query) valid() bool        { return q.header != "" }
func (q Query) String() string     { return q.header }

// Parse parses a raw reply according to the query's grammar.
func (q Query) Parse(raw string) (Response, error) {
	resp := Response{Query: q.header, Raw: raw, Kind: q.kind}
	fail := func(reason string) (Response, error) {
		return Response{}, &ParseError{Command: q.header, Reply: raw, Reason: reason}
	}

	if strings.TrimSpace(raw) == "" {
		return fail("empty reply")
	}

	switch q.kind {
	case KindNumber:
		r, reason := parseNumber(raw, q.units[0])
		if reason != "" {
			return fail(reason)
		}
		resp.Readings = []Reading{r}
	case KindPair:
		fields := strings.Split(raw, ",")
		if len(fields) != 2 {
			return fail("expected two comma-separated values")
		}
		for i, f := range fields {
			r, reason := parseNumber(f, q.units[i])
			if reason != "" {
				return fail(reason)
			}
			resp.Readings = append(resp.Readings, r)
		}
	case KindBool:
		b, reason := parseBool(raw)
		if reason != "" {
			return fail(reason)
		}
		resp.Bool = b
	case KindWord:
		w := strings.TrimSpace(raw)
		if !wordRe.MatchString(w) {
			return fail("not a single word")
		}
		resp.Word = strings.ToUpper(w)
	case KindInteger:
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(raw), "+"))
		if err != nil {
			return fail("not an integer")
		}
		resp.Integer = n
	case KindErrorEntry:
		e, reason := parseErrorEntry(raw)
		if reason != "" {
			return fail(reason)
		}
		resp.Error = e
	case KindIdentity:
		id, reason := parseIdentity(raw)
		if reason != "" {
			return fail(reason)
		}
		resp.Identity = id
	default:
		return fail("unknown response kind")
	}

	return resp, nil
}
