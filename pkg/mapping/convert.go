package mapping

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Layouts accepted when a driver returns a time as text
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeID maps key values onto a canonical representation so that an
// int32 id from a struct and an int64 id from a driver compare equal
func NormalizeID(id any) any {
	switch v := id.(type) {
	case nil:
		return nil
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	rv := reflect.ValueOf(id)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return NormalizeID(rv.Elem().Interface())
	}
	return id
}

// Assign stores a database or cache value into a struct field, converting
// between the representations drivers return and the field's Go type
func Assign(dst reflect.Value, raw any) error {
	if raw == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	src := reflect.ValueOf(raw)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	if dst.Type() == timeType {
		t, err := toTime(raw)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		switch v := raw.(type) {
		case []byte:
			dst.SetString(string(v))
		case string:
			dst.SetString(v)
		default:
			dst.SetString(fmt.Sprint(v))
		}
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(raw)
		if err != nil {
			return fmt.Errorf("%w: %v to %s: %w", ErrConversion, raw, dst.Type(), err)
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(raw)
		if err != nil {
			return fmt.Errorf("%w: %v to %s: %w", ErrConversion, raw, dst.Type(), err)
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(raw)
		if err != nil {
			return fmt.Errorf("%w: %v to %s: %w", ErrConversion, raw, dst.Type(), err)
		}
		dst.SetFloat(f)
		return nil

	case reflect.Bool:
		n, err := toInt64(raw)
		if err != nil {
			if b, ok := raw.(bool); ok {
				dst.SetBool(b)
				return nil
			}
			return fmt.Errorf("%w: %v to bool: %w", ErrConversion, raw, err)
		}
		dst.SetBool(n != 0)
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			switch v := raw.(type) {
			case string:
				dst.SetBytes([]byte(v))
				return nil
			case []byte:
				dst.SetBytes(append([]byte(nil), v...))
				return nil
			}
		}
	}

	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("%w: %T to %s", ErrConversion, raw, dst.Type())
}

func toInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", raw)
}

func toFloat64(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	}
	n, err := toInt64(raw)
	return float64(n), err
}

func toTime(raw any) (time.Time, error) {
	var s string
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %T to time.Time", ErrConversion, raw)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized time %q", ErrConversion, s)
}

// DatabaseValue prepares a field value for use as a statement argument.
// Nil pointers become NULL and pointers are dereferenced.
func DatabaseValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	return v
}

var timeType = reflect.TypeOf(time.Time{})
