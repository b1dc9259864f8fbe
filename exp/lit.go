package exp

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Truthy reports whether v counts as true: false, nil, zero numbers and empty strings, lists and
// maps are all false.
func Truthy(v interface{}) bool {
	switch d := v.(type) {
	case nil:
		return false
	case bool:
		return d
	case string:
		return d != ""
	case float64:
		return d != 0
	case int:
		return d != 0
	case int64:
		return d != 0
	case []interface{}:
		return len(d) > 0
	case map[string]interface{}:
		return len(d) > 0
	}
	return true
}

// Num returns v as float64 or an error if v is not numeric.
func Num(v interface{}) (float64, error) {
	switch d := v.(type) {
	case float64:
		return d, nil
	case int:
		return float64(d), nil
	case int64:
		return float64(d), nil
	case bool:
		if d {
			return 1, nil
		}
		return 0, nil
	}
	return 0, Errf("want number got %T", v)
}

// Str returns v as string or an error if v is not a string.
func Str(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", Errf("want string got %T", v)
}

// ToStr returns a string representation of v for concatenation and formatting.
func ToStr(v interface{}) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// List returns v as a list or an error.
func List(v interface{}) ([]interface{}, error) {
	if l, ok := v.([]interface{}); ok {
		return l, nil
	}
	return nil, Errf("want list got %T", v)
}

// Equal reports deep value equality, treating all numeric types alike.
func Equal(a, b interface{}) bool {
	an, aerr := Num(a)
	bn, berr := Num(b)
	if aerr == nil && berr == nil {
		_, ab := a.(bool)
		_, bb := b.(bool)
		if ab == bb {
			return an == bn
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Less compares two values of the same kind. It returns an error for incomparable values.
func Less(a, b interface{}) (bool, error) {
	an, aerr := Num(a)
	bn, berr := Num(b)
	if aerr == nil && berr == nil {
		return an < bn, nil
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs, nil
	}
	return false, Errf("not comparable %T %T", a, b)
}

// Empty reports whether v is nil or has no elements or characters.
func Empty(v interface{}) bool {
	switch d := v.(type) {
	case nil:
		return true
	case string:
		return d == ""
	case []interface{}:
		return len(d) == 0
	case map[string]interface{}:
		return len(d) == 0
	}
	return false
}

// Contains reports whether container holds item: substring for strings, member for lists and
// key for maps.
func Contains(container, item interface{}) (bool, error) {
	switch d := container.(type) {
	case string:
		s, err := Str(item)
		if err != nil {
			return false, err
		}
		return strings.Contains(d, s), nil
	case []interface{}:
		for _, v := range d {
			if Equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		s, err := Str(item)
		if err != nil {
			return false, err
		}
		_, ok := d[s]
		return ok, nil
	}
	return false, Errf("want container got %T", container)
}
