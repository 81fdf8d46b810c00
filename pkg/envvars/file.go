/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package envvars

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v2"
)

// fileSchema accepts a flat mapping from variable names to scalars.
const fileSchema = `{
	"type": "object",
	"propertyNames": {"pattern": "^[^=]+$"},
	"additionalProperties": {"type": ["string", "number", "boolean"]}
}`

var schema = jsonschema.MustCompileString("envvars.schema.json", fileSchema)

// LoadFile reads a YAML file of environment variables.
func LoadFile(path string) (map[string]string, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read env file %s", path)
	}

	vars, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid env file %s", path)
	}

	return vars, nil
}

// Parse decodes and validates YAML environment variable definitions.
// Numbers and booleans are rendered as their YAML text would suggest.
func Parse(data []byte) (map[string]string, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "could not parse yaml")
	}

	if raw == nil {
		return map[string]string{}, nil
	}

	doc, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(doc); err != nil {
		return nil, errors.WithMessage(err, "schema violation")
	}

	result := map[string]string{}
	for k, v := range raw.(map[interface{}]interface{}) {
		result[fmt.Sprint(k)] = fmt.Sprint(v)
	}

	return result, nil
}

// normalize converts yaml.v2 output into the JSON data model the schema
// validator understands.
func normalize(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(t))
		for k, val := range t {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprint(k)
			}
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			result[key] = n
		}
		return result, nil
	case []interface{}:
		result := make([]interface{}, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			result[i] = n
		}
		return result, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float64, string, bool, nil:
		return t, nil
	default:
		return nil, errors.Errorf("unsupported yaml value of type %T", v)
	}
}

// Describe renders vars as sorted NAME=value lines, for diagnostics.
func Describe(vars map[string]string) string {
	lines := make([]string, 0, len(vars))
	for k, v := range vars {
		lines = append(lines, k+"="+v)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
