package mongostore

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hlop3z/relmap/internal/store"
)

// toBSON copies doc into a BSON document keyed by _id. The primary key field
// itself is not stored twice.
func toBSON(doc store.Document, pk string) bson.M {
	out := make(bson.M, len(doc)+1)
	for k, v := range doc {
		if k == pk {
			continue
		}
		out[k] = store.Normalize(v)
	}
	out["_id"] = store.Normalize(doc[pk])
	return out
}

// fromBSON converts a decoded BSON document back into a plain document.
func fromBSON(raw bson.M, pk string) store.Document {
	out := make(store.Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			out[pk] = plain(v)
			continue
		}
		out[k] = plain(v)
	}
	return out
}

// plain maps driver types onto the JSON-like forms the rest of relmap uses.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Null, primitive.Undefined:
		return nil
	}
	return store.Normalize(v)
}

// indexFilter builds the filter matching any of keys on index. A nil filter
// means nothing can match.
func indexFilter(index store.IndexRef, keys []any) (bson.M, error) {
	if !index.IsCompound() {
		var in bson.A
		for _, k := range keys {
			if k == nil {
				continue
			}
			in = append(in, store.Normalize(k))
		}
		if len(in) == 0 {
			return nil, nil
		}
		return bson.M{index.Fields[0]: bson.M{"$in": in}}, nil
	}

	var or bson.A
	for _, k := range keys {
		parts, ok := store.Normalize(k).([]any)
		if !ok || len(parts) != len(index.Fields) {
			return nil, fmt.Errorf("compound index %q expects keys of %d values, got %v", index.Name, len(index.Fields), k)
		}
		clause := bson.M{}
		skip := false
		for i, part := range parts {
			if part == nil {
				skip = true
				break
			}
			clause[index.Fields[i]] = part
		}
		if !skip {
			or = append(or, clause)
		}
	}
	if len(or) == 0 {
		return nil, nil
	}
	return bson.M{"$or": or}, nil
}

// databaseFromURL extracts the database name from a MongoDB URL path.
func databaseFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return DefaultDatabase
	}
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return DefaultDatabase
	}
	return name
}
