package config

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const redactedValue = "***"

var durationType = reflect.TypeOf(time.Duration(0))

// String renders the configuration as YAML with passwords masked.
func (c *Config) String() string {
	return c.Redacted(nil)
}

// Redacted renders the configuration as YAML. Every value set by the secrets
// Config returned from LoadWithSecrets is replaced by "***".
func (c *Config) Redacted(secrets *Config) string {
	var mask reflect.Value
	if secrets != nil {
		mask = reflect.ValueOf(secrets).Elem()
	}
	out, err := yaml.Marshal(toTree(reflect.ValueOf(c).Elem(), mask))
	if err != nil {
		return fmt.Sprintf("<config render failed: %v>", err)
	}
	return string(out)
}

// toTree converts a config struct into nested maps keyed by mapstructure tag.
func toTree(v, mask reflect.Value) map[string]any {
	tree := make(map[string]any, v.NumField())
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			name = tag
		}
		var fieldMask reflect.Value
		if mask.IsValid() {
			fieldMask = mask.Field(i)
		}
		tree[name] = toValue(v.Field(i), fieldMask, name)
	}
	return tree
}

func toValue(value, mask reflect.Value, name string) any {
	if shouldRedact(mask) {
		return redactedValue
	}
	switch {
	case value.Type() == durationType:
		return time.Duration(value.Int()).String()
	case value.Kind() == reflect.Struct:
		return toTree(value, mask)
	case value.Kind() == reflect.Slice:
		items := make([]any, 0, value.Len())
		for j := 0; j < value.Len(); j++ {
			items = append(items, toValue(value.Index(j), reflect.Value{}, name))
		}
		return items
	case value.Kind() == reflect.String && strings.HasSuffix(name, "url"):
		return redactURL(value.String())
	case value.Kind() == reflect.String && name == "password" && value.String() != "":
		return redactedValue
	default:
		return value.Interface()
	}
}

// redactURL masks the password of a connection URL.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	return parsed.Redacted()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.String:
		return v.String() != ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() != 0
	case reflect.Float32, reflect.Float64:
		return v.Float() != 0
	case reflect.Bool:
		return v.Bool()
	case reflect.Slice, reflect.Map:
		return v.Len() > 0
	default:
		return false
	}
}
