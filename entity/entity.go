// Package entity parses the JSON body of a row and exposes its
// first-line fields: PartitionKey, RowKey, TimeStamp and Expires.
//
// Parsing a body also rewrites it: the TimeStamp field is set to the
// server-assigned write moment, replacing a null or a prior value, or
// injected if absent. The rewritten bytes are what gets stored as the
// row payload.
package entity

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// First-line field names.
const (
	FieldPartitionKey = "PartitionKey"
	FieldRowKey       = "RowKey"
	FieldTimeStamp    = "TimeStamp"
	FieldExpires      = "Expires"
)

// MaxPartitionKeyLength and MaxRowKeyLength are the maximum key sizes
// in bytes. The TCP wire format carries keys as pascal strings, so
// longer keys are rejected at write time.
const (
	MaxPartitionKeyLength = 255
	MaxRowKeyLength       = 255
)

// ParseErrorKind classifies entity parse failures.
type ParseErrorKind int

// Parse failure kinds.
const (
	KindJSONParse ParseErrorKind = iota
	KindFieldPartitionKeyMissing
	KindFieldRowKeyMissing
	KindPartitionKeyTooLong
	KindPartitionKeyNull
	KindRowKeyTooLong
	KindRowKeyNull
)

var parseErrorNames = map[ParseErrorKind]string{
	KindJSONParse:                "JsonParseError",
	KindFieldPartitionKeyMissing: "FieldPartitionKeyMissing",
	KindFieldRowKeyMissing:       "FieldRowKeyMissing",
	KindPartitionKeyTooLong:      "PartitionKeyTooLong",
	KindPartitionKeyNull:         "PartitionKeyNull",
	KindRowKeyTooLong:            "RowKeyTooLong",
	KindRowKeyNull:               "RowKeyNull",
}

// ParseError is returned when a row body cannot be accepted.
type ParseError struct {
	Kind ParseErrorKind
}

func (e *ParseError) Error() string {
	name, ok := parseErrorNames[e.Kind]
	if !ok {
		return fmt.Sprintf("entity parse failed (kind %d)", e.Kind)
	}
	return "entity parse failed: " + name
}

// Name returns the short wire name of the failure kind.
func (e *ParseError) Name() string {
	return parseErrorNames[e.Kind]
}

// Parsed is the outcome of parsing one row body.
type Parsed struct {
	PartitionKey string
	RowKey       string

	// TimeStamp is the microsecond moment written into Raw.
	TimeStamp int64

	// ClientTimeStamp is the TimeStamp value the client sent, parsed
	// to microseconds. Replace uses it for the optimistic concurrency
	// check. HasClientTimeStamp is false when the field was absent,
	// null or unparseable.
	ClientTimeStamp    int64
	HasClientTimeStamp bool

	// Expires is the parsed Expires field. HasExpires is false when
	// the field was absent, null or unparseable.
	Expires    int64
	HasExpires bool

	// Raw is the rewritten body with TimeStamp set.
	Raw []byte
}

// Parse validates a single JSON object and rewrites its TimeStamp
// field to now.
func Parse(raw []byte, now int64) (*Parsed, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Kind: KindJSONParse}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, &ParseError{Kind: KindJSONParse}
	}
	return parseObject(doc, raw, now)
}

// ParseArray validates a JSON array of row objects, rewriting each
// object's TimeStamp to now. Results keep the array order.
func ParseArray(raw []byte, now int64) ([]*Parsed, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Kind: KindJSONParse}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, &ParseError{Kind: KindJSONParse}
	}

	var result []*Parsed
	var parseErr error
	doc.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			parseErr = &ParseError{Kind: KindJSONParse}
			return false
		}
		p, err := parseObject(item, []byte(item.Raw), now)
		if err != nil {
			parseErr = err
			return false
		}
		result = append(result, p)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return result, nil
}

// ParseStored parses a row body coming back from the persistence
// backend. The stored TimeStamp is kept; fallbackNow is injected only
// when the field is missing. The body is not rewritten otherwise.
func ParseStored(raw []byte, fallbackNow int64) (*Parsed, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Kind: KindJSONParse}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, &ParseError{Kind: KindJSONParse}
	}

	pk, rk, err := keysOf(doc)
	if err != nil {
		return nil, err
	}

	p := &Parsed{
		PartitionKey: pk,
		RowKey:       rk,
		Raw:          raw,
	}
	p.Expires, p.HasExpires = expiresOf(doc)

	if ts, ok := timeutils.ParseISO(doc.Get(FieldTimeStamp).String()); ok {
		p.TimeStamp = ts
	} else {
		p.TimeStamp = fallbackNow
		rewritten, err := sjson.SetBytes(raw, FieldTimeStamp, timeutils.MicrosToISO(fallbackNow))
		if err != nil {
			return nil, &ParseError{Kind: KindJSONParse}
		}
		p.Raw = rewritten
	}
	return p, nil
}

// ParseStoredArray parses a persisted partition file: a JSON array of
// row objects whose stored timestamps are kept.
func ParseStoredArray(raw []byte, fallbackNow int64) ([]*Parsed, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Kind: KindJSONParse}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsArray() {
		return nil, &ParseError{Kind: KindJSONParse}
	}

	var result []*Parsed
	var parseErr error
	doc.ForEach(func(_, item gjson.Result) bool {
		p, err := ParseStored([]byte(item.Raw), fallbackNow)
		if err != nil {
			parseErr = err
			return false
		}
		result = append(result, p)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return result, nil
}

// GroupByPartition groups parse results by partition key, keeping the
// relative order of rows within each partition.
func GroupByPartition(rows []*Parsed) map[string][]*Parsed {
	grouped := make(map[string][]*Parsed)
	for _, row := range rows {
		grouped[row.PartitionKey] = append(grouped[row.PartitionKey], row)
	}
	return grouped
}

func parseObject(doc gjson.Result, raw []byte, now int64) (*Parsed, error) {
	pk, rk, err := keysOf(doc)
	if err != nil {
		return nil, err
	}

	p := &Parsed{
		PartitionKey: pk,
		RowKey:       rk,
		TimeStamp:    now,
	}
	p.Expires, p.HasExpires = expiresOf(doc)

	if ts := doc.Get(FieldTimeStamp); ts.Exists() && ts.Type == gjson.String {
		p.ClientTimeStamp, p.HasClientTimeStamp = timeutils.ParseISO(ts.String())
	}

	rewritten, err := sjson.SetBytes(raw, FieldTimeStamp, timeutils.MicrosToISO(now))
	if err != nil {
		return nil, &ParseError{Kind: KindJSONParse}
	}
	p.Raw = rewritten
	return p, nil
}

func keysOf(doc gjson.Result) (pk, rk string, err error) {
	pkField := doc.Get(FieldPartitionKey)
	if !pkField.Exists() {
		return "", "", &ParseError{Kind: KindFieldPartitionKeyMissing}
	}
	if pkField.Type == gjson.Null {
		return "", "", &ParseError{Kind: KindPartitionKeyNull}
	}
	pk = pkField.String()
	if len(pk) > MaxPartitionKeyLength {
		return "", "", &ParseError{Kind: KindPartitionKeyTooLong}
	}

	rkField := doc.Get(FieldRowKey)
	if !rkField.Exists() {
		return "", "", &ParseError{Kind: KindFieldRowKeyMissing}
	}
	if rkField.Type == gjson.Null {
		return "", "", &ParseError{Kind: KindRowKeyNull}
	}
	rk = rkField.String()
	if len(rk) > MaxRowKeyLength {
		return "", "", &ParseError{Kind: KindRowKeyTooLong}
	}
	return pk, rk, nil
}

// expiresOf reads the Expires field. Null and unparseable values count
// as "never expires" and produce no error.
func expiresOf(doc gjson.Result) (int64, bool) {
	field := doc.Get(FieldExpires)
	if !field.Exists() || field.Type != gjson.String {
		return 0, false
	}
	return timeutils.ParseISO(field.String())
}
