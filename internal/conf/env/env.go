// Package env contains a function to load configuration from environment.
package env

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler can be implemented to override the unmarshaling process.
type Unmarshaler interface {
	UnmarshalEnv(prefix string, v string) error
}

func hasKeyWithPrefix(env map[string]string, prefix string) bool {
	for key := range env {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "true":
		return true, nil

	case "no", "false":
		return false, nil

	default:
		return false, fmt.Errorf("invalid value '%s'", v)
	}
}

var scalarTypes = map[reflect.Type]struct{}{
	reflect.TypeOf(""):          {},
	reflect.TypeOf(int(0)):      {},
	reflect.TypeOf(int64(0)):    {},
	reflect.TypeOf(uint(0)):     {},
	reflect.TypeOf(uint64(0)):   {},
	reflect.TypeOf(float64(0)):  {},
	reflect.TypeOf(false):       {},
	reflect.TypeOf([]string{}):  {},
	reflect.TypeOf([]float64{}): {},
}

// loadScalar loads a value that is stored in a single variable.
func loadScalar(ev string, dest reflect.Value) error {
	switch dest.Kind() {
	case reflect.String:
		dest.SetString(ev)

	case reflect.Int, reflect.Int64:
		iv, err := strconv.ParseInt(ev, 10, dest.Type().Bits())
		if err != nil {
			return err
		}
		dest.SetInt(iv)

	case reflect.Uint, reflect.Uint64:
		iv, err := strconv.ParseUint(ev, 10, dest.Type().Bits())
		if err != nil {
			return err
		}
		dest.SetUint(iv)

	case reflect.Float64:
		fv, err := strconv.ParseFloat(ev, 64)
		if err != nil {
			return err
		}
		dest.SetFloat(fv)

	case reflect.Bool:
		bv, err := parseBool(ev)
		if err != nil {
			return err
		}
		dest.SetBool(bv)

	case reflect.Slice:
		if ev == "" {
			dest.Set(reflect.MakeSlice(dest.Type(), 0, 0))
			return nil
		}

		raw := strings.Split(ev, ",")

		if dest.Type().Elem().Kind() == reflect.String {
			dest.Set(reflect.ValueOf(raw))
			return nil
		}

		vals := make([]float64, len(raw))
		for i, v := range raw {
			tmp, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			vals[i] = tmp
		}
		dest.Set(reflect.ValueOf(vals))
	}

	return nil
}

func loadStructSlice(env map[string]string, prefix string, prv reflect.Value, rt reflect.Type) error {
	if ev, ok := env[prefix]; ok && ev == "" { // empty list
		prv.Elem().Set(reflect.MakeSlice(rt, 0, 0))
		return nil
	}

	for i := 0; ; i++ {
		itemPrefix := prefix + "_" + strconv.FormatInt(int64(i), 10)

		// existing items are updated in place
		if i < prv.Elem().Len() {
			err := loadEnvInternal(env, itemPrefix, prv.Elem().Index(i))
			if err != nil {
				return err
			}
			continue
		}

		if !hasKeyWithPrefix(env, itemPrefix+"_") {
			return nil
		}

		elem := reflect.New(rt.Elem())
		err := loadEnvInternal(env, itemPrefix, elem.Elem())
		if err != nil {
			return err
		}

		prv.Elem().Set(reflect.Append(prv.Elem(), elem.Elem()))
	}
}

func loadEnvInternal(env map[string]string, prefix string, prv reflect.Value) error {
	if prv.Kind() != reflect.Pointer {
		return loadEnvInternal(env, prefix, prv.Addr())
	}

	rt := prv.Type().Elem()

	if i, ok := prv.Interface().(Unmarshaler); ok {
		if ev, ok := env[prefix]; ok {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
				i = prv.Interface().(Unmarshaler)
			}
			err := i.UnmarshalEnv(prefix, ev)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
		}
		return nil
	}

	if _, ok := scalarTypes[rt]; ok {
		if ev, ok := env[prefix]; ok {
			dest := reflect.New(rt).Elem()
			err := loadScalar(ev, dest)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}

			if prv.IsNil() {
				prv.Set(reflect.New(rt))
			}
			prv.Elem().Set(dest)
		}
		return nil
	}

	switch rt.Kind() {
	case reflect.Struct:
		if prv.IsNil() {
			if !hasKeyWithPrefix(env, prefix+"_") {
				return nil
			}
			prv.Set(reflect.New(rt))
		}

		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			jsonTag := f.Tag.Get("json")

			// load only public fields
			if jsonTag == "-" || jsonTag == "" {
				continue
			}

			err := loadEnvInternal(env, prefix+"_"+
				strings.ToUpper(strings.TrimSuffix(jsonTag, ",omitempty")), prv.Elem().Field(i))
			if err != nil {
				return err
			}
		}
		return nil

	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Struct {
			if prv.IsNil() {
				if !hasKeyWithPrefix(env, prefix) {
					return nil
				}
				prv.Set(reflect.New(rt))
			}
			return loadStructSlice(env, prefix, prv, rt)
		}
	}

	return fmt.Errorf("unsupported type: %v", rt)
}

func loadWithEnv(env map[string]string, prefix string, v interface{}) error {
	return loadEnvInternal(env, prefix, reflect.ValueOf(v).Elem())
}

func envToMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		tmp := strings.SplitN(kv, "=", 2)
		if len(tmp) == 2 {
			env[tmp[0]] = tmp[1]
		}
	}
	return env
}

// Load loads the configuration from the environment.
func Load(prefix string, v interface{}) error {
	return loadWithEnv(envToMap(), prefix, v)
}
