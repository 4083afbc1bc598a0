package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/statekeep/statekeep/pkg/store"
)

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for _, k := range sortedKeys(val) {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	// Typed slices and string-keyed maps, e.g. []string or map[string]int.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return toStarlarkValue(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type: %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return toStarlarkValue(m)
	case reflect.String:
		return starlark.String(rv.String()), nil
	}
	return nil, fmt.Errorf("unsupported type: %T", v)
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Iterable, n int) (any, error) {
	list := make([]any, 0, n)
	iter := it.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		item, err := fromStarlarkValue(x)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, nil
}

// actionValue exposes an action to scripts as a frozen struct with type,
// payload and meta fields.
func actionValue(action store.Action) (starlark.Value, error) {
	payload, err := payloadValue(action.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload of %s: %w", action.Type, err)
	}
	meta := starlarkstruct.FromStringDict(starlark.String("meta"), starlark.StringDict{
		"id":     starlark.String(action.Meta.ID),
		"seq":    starlark.MakeUint64(action.Meta.Seq),
		"origin": starlark.String(action.Meta.Origin),
		"remote": starlark.Bool(action.Meta.Remote),
	})
	v := starlarkstruct.FromStringDict(starlark.String("action"), starlark.StringDict{
		"type":    starlark.String(action.Type),
		"payload": payload,
		"meta":    meta,
	})
	v.Freeze()
	return v, nil
}

// payloadValue converts a payload, falling back to its JSON form for
// struct payloads.
func payloadValue(payload any) (starlark.Value, error) {
	switch p := payload.(type) {
	case store.Rehydration:
		return toStarlarkValue(p.Slices)
	case *store.Rehydration:
		if p == nil {
			return starlark.None, nil
		}
		return toStarlarkValue(p.Slices)
	}

	if v, err := toStarlarkValue(payload); err == nil {
		return v, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	generic, err := decodeJSON(raw)
	if err != nil {
		return nil, err
	}
	return toStarlarkValue(generic)
}

// decodeJSON decodes raw into generic values, keeping whole numbers as
// int64 so they round-trip with Starlark ints.
func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = normalizeNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = normalizeNumbers(val[k])
		}
		return val
	default:
		return v
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
