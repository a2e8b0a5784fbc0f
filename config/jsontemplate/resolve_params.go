package jsontemplate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Resolve replaces all `{ "$param": "param_name" }` references in the JSON with
// values from params and returns new JSON data. Param values are always
// provided as strings and then converted to JSON types according to the field
// types of target, which must be the struct (or pointer to struct) the
// document will be decoded into. Fields are matched by their json tags.
func Resolve(data []byte, target any, params *Params) ([]byte, error) {
	var jsonObj any
	if err := json.Unmarshal(data, &jsonObj); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	processedObj, err := processNode(jsonObj, params, reflect.TypeOf(target), "")
	if err != nil {
		return nil, fmt.Errorf("parameter resolution failed: %w", err)
	}

	return json.Marshal(processedObj)
}

// processNode traverses the JSON structure alongside the Go type it decodes
// into, replacing parameter references.
func processNode(node any, params *Params, typ reflect.Type, path string) (any, error) {
	typ = deref(typ)

	switch nodeValue := node.(type) {

	// JSON object
	case map[string]any:
		if paramName, isParam := nodeValue["$param"]; isParam && len(nodeValue) == 1 {
			paramNameStr, isNameString := paramName.(string)
			if !isNameString {
				return nil, fmt.Errorf("param name must be a string at %q", path)
			}

			paramValue, exists := params.Get(paramNameStr)
			if !exists {
				return nil, fmt.Errorf("missing parameter %q", paramNameStr)
			}

			if typ == nil {
				return paramValue, nil
			}
			return toJSONType(paramValue, typ, path)
		}

		result := make(map[string]any, len(nodeValue))
		for k, v := range nodeValue {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}

			childType, err := memberType(typ, k, path)
			if err != nil {
				return nil, err
			}

			processed, err := processNode(v, params, childType, childPath)
			if err != nil {
				return nil, err
			}
			result[k] = processed
		}
		return result, nil

	// JSON array, process each item
	case []any:
		var elemType reflect.Type
		if typ != nil && (typ.Kind() == reflect.Slice || typ.Kind() == reflect.Array) {
			elemType = typ.Elem()
		}
		result := make([]any, len(nodeValue))
		for i, item := range nodeValue {
			processed, err := processNode(item, params, elemType, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			result[i] = processed
		}
		return result, nil

	// Primitive value, done
	default:
		return nodeValue, nil
	}
}

// memberType finds the type a JSON object member decodes into. A nil type
// means the shape is unknown and params there stay strings.
func memberType(typ reflect.Type, name, path string) (reflect.Type, error) {
	if typ == nil {
		return nil, nil
	}
	switch typ.Kind() {
	case reflect.Map:
		return typ.Elem(), nil
	case reflect.Interface:
		return nil, nil
	case reflect.Struct:
		if field, ok := fieldByJSONName(typ, name); ok {
			return field.Type, nil
		}
		return nil, fmt.Errorf("field %s not found in %s", name, describe(path))
	default:
		return nil, fmt.Errorf("cannot traverse non-object field %s", describe(path))
	}
}

func fieldByJSONName(typ reflect.Type, name string) (reflect.StructField, bool) {
	for _, field := range reflect.VisibleFields(typ) {
		if !field.IsExported() || field.Anonymous {
			continue
		}
		tagName, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if tagName == "-" {
			continue
		}
		if tagName == "" {
			tagName = field.Name
		}
		// encoding/json matches member names case-insensitively.
		if strings.EqualFold(tagName, name) {
			return field, true
		}
	}
	return reflect.StructField{}, false
}

// toJSONType converts a string value to the JSON type for a Go type.
func toJSONType(value string, typ reflect.Type, path string) (any, error) {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(value, 10, typ.Bits())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(value, 10, typ.Bits())
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(value, typ.Bits())
	case reflect.Bool:
		return strconv.ParseBool(value)
	case reflect.String, reflect.Interface:
		return value, nil
	case reflect.Slice, reflect.Array:
		// No functionality to substitute params for arrays
		return nil, fmt.Errorf("cannot use $param for array field %s", describe(path))
	default:
		return nil, fmt.Errorf("unsupported field type %s for %s", typ, describe(path))
	}
}

func deref(typ reflect.Type) reflect.Type {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ
}

func describe(path string) string {
	if path == "" {
		return "document root"
	}
	return strconv.Quote(path)
}
