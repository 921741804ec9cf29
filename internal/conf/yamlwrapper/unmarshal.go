// Package yamlwrapper contains a YAML unmarshaler.
package yamlwrapper

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/bluenviron/mediacompose/internal/conf/jsonwrapper"
)

// toJSONValue turns the generic maps produced by yaml.v2, whose keys are interface{},
// into maps that can be encoded into JSON.
func toJSONValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			out[fmt.Sprint(key)] = toJSONValue(val)
		}
		return out

	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = toJSONValue(val)
		}
		return out
	}

	return v
}

// Unmarshal decodes YAML by converting it into JSON.
// Duplicate keys and unknown fields are rejected.
// An empty document is decoded as an empty object.
func Unmarshal(buf []byte, dest interface{}) error {
	var raw interface{}
	err := yaml.UnmarshalStrict(buf, &raw)
	if err != nil {
		return err
	}

	if raw == nil {
		raw = map[string]interface{}{}
	}

	buf, err = json.Marshal(toJSONValue(raw))
	if err != nil {
		return err
	}

	return jsonwrapper.Unmarshal(buf, dest)
}
