package sentiment

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/teilomillet/econochat/errors"
)

// Label is the three-way classification outcome.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
	Neutral  Label = "neutral"
)

// FallbackExplanation replaces a missing or unusable explanation.
const FallbackExplanation = "No se pudo generar explicación."

// DefaultConfidence replaces a missing or non-numeric confidence.
const DefaultConfidence = 50.0

// MessageMalformed is shown when the completion is not a JSON object.
const MessageMalformed = "La respuesta del modelo no tiene el formato esperado."

// Result is a normalized classification. Confidence is within [0, 100] and
// rounded to two decimals.
type Result struct {
	Label       Label   `json:"label"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// Raw is a completion decoded as a JSON object, before normalization.
type Raw map[string]interface{}

// Keys of the structured completion.
const (
	keyLabel       = "sentimiento"
	keyConfidence  = "confianza"
	keyExplanation = "explicacion"
)

var labels = map[string]Label{
	"positivo": Positive,
	"positive": Positive,
	"negativo": Negative,
	"negative": Negative,
	"neutro":   Neutral,
	"neutral":  Neutral,
}

// Parse decodes a completion strictly. Anything other than a single JSON
// object is a classification_error; nothing is defaulted here.
func Parse(completion string) (Raw, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(completion)), &v); err != nil {
		return nil, errors.NewClassificationError("", MessageMalformed, fmt.Errorf("decode completion: %w", err))
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.NewClassificationError("", MessageMalformed, fmt.Errorf("completion is %T, not an object", v))
	}
	return Raw(obj), nil
}

// Normalize turns any Raw value into a valid Result. It never fails: each
// field falls back to its default independently.
func Normalize(raw Raw) Result {
	return Result{
		Label:       normalizeLabel(raw[keyLabel]),
		Confidence:  normalizeConfidence(raw[keyConfidence]),
		Explanation: normalizeExplanation(raw[keyExplanation]),
	}
}

func normalizeLabel(v interface{}) Label {
	s, ok := v.(string)
	if !ok {
		return Neutral
	}
	if l, ok := labels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return Neutral
}

func normalizeConfidence(v interface{}) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return DefaultConfidence
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil && !isRangeError(err) {
			return DefaultConfidence
		}
		f = parsed
	case bool:
		if val {
			f = 1
		}
	default:
		return DefaultConfidence
	}

	if math.IsNaN(f) {
		return DefaultConfidence
	}
	f = math.Max(0, math.Min(100, f))
	return math.Round(f*100) / 100
}

// isRangeError reports a syntactically valid number out of float64 range;
// ParseFloat still returns ±Inf for it, which clamps fine.
func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}

func normalizeExplanation(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	}
	if s == "" {
		return FallbackExplanation
	}
	return s
}
