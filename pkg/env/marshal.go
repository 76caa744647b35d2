package env

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// MarshalEnv reflects over one or more config structs and renders .env content
// from their env tags. Zero fields fall back to the envDefault tag; fields with
// neither a value nor a default are written commented out so the file documents
// every recognized key.
func MarshalEnv(configs ...any) (string, error) {
	var lines []string
	for _, c := range configs {
		v := reflect.ValueOf(c)
		if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
			return "", fmt.Errorf("marshal env: expected pointer to struct, got %T", c)
		}
		lines = appendStruct(lines, v.Elem())
	}

	result := strings.Join(lines, "\n")
	if result != "" {
		result += "\n"
	}
	return result, nil
}

func appendStruct(lines []string, v reflect.Value) []string {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		val := v.Field(i)
		tag := field.Tag.Get("env")
		if tag == "" {
			if val.Kind() == reflect.Struct && field.Type != durationType {
				lines = appendStruct(lines, val)
			}
			continue
		}

		// "KEY,required,notEmpty"
		key := strings.Split(tag, ",")[0]
		if key == "" {
			continue
		}

		switch {
		case !val.IsZero():
			lines = append(lines, fmt.Sprintf("%s=%s", key, formatValue(val)))
		case field.Tag.Get("envDefault") != "":
			lines = append(lines, fmt.Sprintf("%s=%s", key, field.Tag.Get("envDefault")))
		default:
			lines = append(lines, fmt.Sprintf("# %s=", key))
		}
	}
	return lines
}

// formatValue converts a reflect.Value to its string representation
func formatValue(v reflect.Value) string {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String()
	}

	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts[i] = formatValue(v.Index(i))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
