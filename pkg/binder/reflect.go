package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

func bindValues(v any, values map[string][]string) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrInvalidTarget
	}
	rv = rv.Elem()
	rt := rv.Type()

	for i := range rt.NumField() {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("form"), ",")
		if name == "-" || name == "" {
			continue
		}
		vals, ok := values[name]
		if !ok || len(vals) == 0 {
			continue
		}
		if err := setField(rv.Field(i), strings.TrimSpace(vals[0])); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFieldConversion, name, err)
		}
	}
	return nil
}

func setField(f reflect.Value, raw string) error {
	if f.Kind() == reflect.Pointer {
		if raw == "" {
			return nil
		}
		ptr := reflect.New(f.Type().Elem())
		if err := setField(ptr.Elem(), raw); err != nil {
			return err
		}
		f.Set(ptr)
		return nil
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if raw == "" {
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Bool:
		if raw == "" {
			return nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind %s", f.Kind())
	}
	return nil
}
