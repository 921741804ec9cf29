// Package jsonwrapper contains a strict JSON unmarshaler.
package jsonwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// with respect to encoding/json, this unmarshaler:
// - rejects unknown fields
// - never reuses existing slice elements (https://github.com/golang/go/issues/21092)
// - rejects null slices

func fieldKey(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}
	return strings.Split(tag, ",")[0]
}

func joinPath(parent string, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func prepare(v reflect.Value, raw interface{}, path string) error {
	switch v.Kind() {
	case reflect.Pointer:
		if raw != nil && !v.IsNil() {
			return prepare(v.Elem(), raw, path)
		}

	case reflect.Slice:
		if raw == nil {
			if path == "" {
				return fmt.Errorf("cannot set slice to nil")
			}
			return fmt.Errorf("cannot set slice '%s' to nil", path)
		}

		if !v.IsNil() {
			v.Set(reflect.Zero(v.Type()))
		}

	case reflect.Struct:
		fields, ok := raw.(map[string]interface{})
		if !ok {
			return nil
		}

		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			key := fieldKey(t.Field(i))
			if key == "" {
				continue
			}

			if rawField, ok := fields[key]; ok {
				err := prepare(v.Field(i), rawField, joinPath(path, key))
				if err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// Unmarshal decodes JSON.
func Unmarshal(buf []byte, dest interface{}) error {
	var raw interface{}
	err := json.Unmarshal(buf, &raw)
	if err != nil {
		return err
	}

	err = prepare(reflect.ValueOf(dest).Elem(), raw, "")
	if err != nil {
		return err
	}

	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}

// Decode decodes JSON from a reader.
func Decode(r io.Reader, dest interface{}) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return Unmarshal(buf, dest)
}
