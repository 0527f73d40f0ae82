package mongostore

import (
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/dmitrymomot/docrelay/core/document"
)

// Normalize converts a decoded BSON document into a document.Document:
// _id becomes the hex "id" field and nested BSON values become maps,
// slices, strings and time.Time.
func Normalize(raw bson.M) document.Document {
	doc := make(document.Document, len(raw))
	for k, v := range raw {
		if k == mongoIDField {
			doc[document.IDField] = normalizeID(v)
			continue
		}
		doc[k] = NormalizeValue(v)
	}
	return doc
}

// NormalizeValue converts one BSON value.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = NormalizeValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = NormalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC()
	case bson.Decimal128:
		return val.String()
	case bson.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case bson.Binary:
		return val.Data
	default:
		return v
	}
}

func normalizeID(v any) any {
	if oid, ok := v.(bson.ObjectID); ok {
		return oid.Hex()
	}
	return NormalizeValue(v)
}

// BuildFilter turns an equality filter into a Mongo query. The "id" key
// matches _id. String values that also read as a number or boolean match
// either form, because query parameters always arrive as text.
func BuildFilter(filter document.Filter) (bson.D, error) {
	query := bson.D{}
	for k, v := range filter {
		if k == document.IDField {
			s, _ := v.(string)
			oid, err := parseID(s)
			if err != nil {
				return nil, err
			}
			query = append(query, bson.E{Key: mongoIDField, Value: oid})
			continue
		}
		query = append(query, bson.E{Key: k, Value: matchValue(v)})
	}
	return query, nil
}

func matchValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	alternatives := bson.A{s}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		alternatives = append(alternatives, n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			alternatives = append(alternatives, i)
		}
	}
	if b, err := strconv.ParseBool(s); err == nil {
		alternatives = append(alternatives, b)
	}
	if len(alternatives) == 1 {
		return s
	}
	return bson.D{{Key: "$in", Value: alternatives}}
}
