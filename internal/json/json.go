// Package json provides JSON encoding that preserves fields this version of
// the library does not know about. Cache files may be written by other
// implementations (or newer versions) of the shared cache format; any key we
// cannot map to a struct field is captured in the struct's AdditionalFields
// map and written back out on the next Marshal, so a round trip through this
// process never loses data.
//
// A type participates by declaring:
//
//	AdditionalFields map[string]interface{}
//
// Types implementing json.Marshaler/json.Unmarshaler are encoded with their
// own methods. Embedded structs are inlined as encoding/json does.
package json

import (
	stdjson "encoding/json"
	"fmt"
	"reflect"
	"strings"
)

const addField = "AdditionalFields"

// Marshal encodes i, merging the contents of any AdditionalFields maps into
// the enclosing JSON objects.
func Marshal(i interface{}) ([]byte, error) {
	v := reflect.ValueOf(i)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return []byte("null"), nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return stdjson.Marshal(i)
	}
	m, err := structToMap(v)
	if err != nil {
		return nil, err
	}
	return stdjson.Marshal(m)
}

// Unmarshal decodes b into i, which must be a pointer to a struct. Keys that
// do not correspond to a struct field are stored in the struct's
// AdditionalFields map as json.RawMessage values.
func Unmarshal(b []byte, i interface{}) error {
	v := reflect.ValueOf(i)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("json: Unmarshal requires a pointer to a struct, got %T", i)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("json: Unmarshal requires a pointer to a struct, got %T", i)
	}

	raw := map[string]stdjson.RawMessage{}
	if err := stdjson.Unmarshal(b, &raw); err != nil {
		return err
	}
	return mapToStruct(v, raw, true)
}

// MarshalRaw encodes i to a raw message. It is how AdditionalFields values
// are represented after an Unmarshal.
func MarshalRaw(i interface{}) stdjson.RawMessage {
	b, err := stdjson.Marshal(i)
	if err != nil {
		panic(fmt.Sprintf("json: MarshalRaw(%T): %s", i, err))
	}
	return b
}

func structToMap(v reflect.Value) (map[string]stdjson.RawMessage, error) {
	out := map[string]stdjson.RawMessage{}
	if err := addStructFields(v, out); err != nil {
		return nil, err
	}
	return out, nil
}

func addStructFields(v reflect.Value, out map[string]stdjson.RawMessage) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)

		if sf.Anonymous {
			inner := fv
			for inner.Kind() == reflect.Ptr {
				if inner.IsNil() {
					inner = reflect.Value{}
					break
				}
				inner = inner.Elem()
			}
			if inner.IsValid() && inner.Kind() == reflect.Struct {
				if err := addStructFields(inner, out); err != nil {
					return err
				}
				continue
			}
		}

		if sf.Name == addField {
			m, err := additionalFieldsMap(fv)
			if err != nil {
				return err
			}
			for k, val := range m {
				b, err := stdjson.Marshal(val)
				if err != nil {
					return fmt.Errorf("json: AdditionalFields[%s]: %w", k, err)
				}
				out[k] = b
			}
			continue
		}

		name, omitEmpty, skip := fieldName(sf)
		if skip {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}

		b, err := marshalValue(fv)
		if err != nil {
			return fmt.Errorf("json: field %s: %w", sf.Name, err)
		}
		out[name] = b
	}
	return nil
}

func marshalValue(v reflect.Value) (stdjson.RawMessage, error) {
	// A type's own marshaler always wins.
	if v.Type().Implements(marshalerType) || (v.CanAddr() && v.Addr().Type().Implements(marshalerType)) {
		return stdjson.Marshal(v.Interface())
	}

	deref := v
	for deref.Kind() == reflect.Ptr {
		if deref.IsNil() {
			return stdjson.RawMessage("null"), nil
		}
		deref = deref.Elem()
	}

	switch deref.Kind() {
	case reflect.Struct:
		if hasAdditionalFields(deref.Type()) {
			m, err := structToMap(deref)
			if err != nil {
				return nil, err
			}
			return stdjson.Marshal(m)
		}
	case reflect.Map:
		if deref.Type().Key().Kind() == reflect.String && hasAdditionalFields(deref.Type().Elem()) {
			out := map[string]stdjson.RawMessage{}
			iter := deref.MapRange()
			for iter.Next() {
				b, err := marshalValue(iter.Value())
				if err != nil {
					return nil, err
				}
				out[iter.Key().String()] = b
			}
			return stdjson.Marshal(out)
		}
	case reflect.Slice:
		if hasAdditionalFields(deref.Type().Elem()) {
			out := make([]stdjson.RawMessage, deref.Len())
			for i := 0; i < deref.Len(); i++ {
				b, err := marshalValue(deref.Index(i))
				if err != nil {
					return nil, err
				}
				out[i] = b
			}
			return stdjson.Marshal(out)
		}
	}
	return stdjson.Marshal(v.Interface())
}

// mapToStruct assigns raw's entries to v's fields, consuming matched keys.
// setAdditional controls whether leftovers are recorded: embedded structs
// share the enclosing object, so only the outermost struct collects them.
func mapToStruct(v reflect.Value, raw map[string]stdjson.RawMessage, setAdditional bool) error {
	t := v.Type()
	var additional reflect.Value

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)

		if sf.Anonymous {
			inner := fv
			for inner.Kind() == reflect.Ptr {
				if inner.IsNil() {
					inner.Set(reflect.New(inner.Type().Elem()))
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := mapToStruct(inner, raw, false); err != nil {
					return err
				}
				continue
			}
		}

		if sf.Name == addField {
			if sf.Type.Kind() != reflect.Map || sf.Type.Key().Kind() != reflect.String {
				return fmt.Errorf("json: %s.AdditionalFields must be a map[string]interface{}", t.Name())
			}
			additional = fv
			continue
		}

		name, _, skip := fieldName(sf)
		if skip {
			continue
		}
		b, ok := raw[name]
		if !ok {
			continue
		}
		if err := unmarshalValue(fv, b); err != nil {
			return fmt.Errorf("json: field %s: %w", sf.Name, err)
		}
		delete(raw, name)
	}

	if setAdditional && additional.IsValid() && len(raw) > 0 {
		m := reflect.MakeMap(additional.Type())
		for k, b := range raw {
			m.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(interface{}(b)))
		}
		additional.Set(m)
	}
	return nil
}

func unmarshalValue(fv reflect.Value, b stdjson.RawMessage) error {
	if fv.Kind() == reflect.Ptr {
		if string(b) == "null" {
			return nil
		}
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}

	if fv.CanAddr() && fv.Addr().Type().Implements(unmarshalerType) {
		return stdjson.Unmarshal(b, fv.Addr().Interface())
	}

	switch fv.Kind() {
	case reflect.Struct:
		if hasAdditionalFields(fv.Type()) {
			sub := map[string]stdjson.RawMessage{}
			if err := stdjson.Unmarshal(b, &sub); err != nil {
				return err
			}
			return mapToStruct(fv, sub, true)
		}
	case reflect.Map:
		if fv.Type().Key().Kind() == reflect.String && hasAdditionalFields(fv.Type().Elem()) {
			sub := map[string]stdjson.RawMessage{}
			if err := stdjson.Unmarshal(b, &sub); err != nil {
				return err
			}
			m := reflect.MakeMap(fv.Type())
			for k, vb := range sub {
				ev := reflect.New(fv.Type().Elem()).Elem()
				if err := unmarshalValue(ev, vb); err != nil {
					return err
				}
				m.SetMapIndex(reflect.ValueOf(k), ev)
			}
			fv.Set(m)
			return nil
		}
	case reflect.Slice:
		if hasAdditionalFields(fv.Type().Elem()) {
			var sub []stdjson.RawMessage
			if err := stdjson.Unmarshal(b, &sub); err != nil {
				return err
			}
			s := reflect.MakeSlice(fv.Type(), len(sub), len(sub))
			for i, vb := range sub {
				if err := unmarshalValue(s.Index(i), vb); err != nil {
					return err
				}
			}
			fv.Set(s)
			return nil
		}
	}
	return stdjson.Unmarshal(b, fv.Addr().Interface())
}

func additionalFieldsMap(fv reflect.Value) (map[string]interface{}, error) {
	if fv.Kind() != reflect.Map || fv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("json: AdditionalFields must be a map[string]interface{}")
	}
	if fv.IsNil() {
		return nil, nil
	}
	out := make(map[string]interface{}, fv.Len())
	iter := fv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, nil
}

func hasAdditionalFields(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	_, ok := t.FieldByName(addField)
	return ok
}

func fieldName(sf reflect.StructField) (name string, omitEmpty, skip bool) {
	name = sf.Name
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" {
		return "", false, true
	}
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

var (
	marshalerType   = reflect.TypeOf((*stdjson.Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*stdjson.Unmarshaler)(nil)).Elem()
)
