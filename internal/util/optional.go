package util

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type Optional[T any] struct {
	Val   T
	IsSet bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{Val: v, IsSet: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) Unwrap() T {
	if !o.IsSet {
		panic("called Unwrap on a None value")
	}
	return o.Val
}

func (o Optional[T]) UnwrapOr(defaultVal T) T {
	if !o.IsSet {
		return defaultVal
	}
	return o.Val
}

// FromPtr maps a nil pointer to None.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// Ptr returns nil for None, used when decoding into JSON-friendly structs.
func (o Optional[T]) Ptr() *T {
	if !o.IsSet {
		return nil
	}
	v := o.Val
	return &v
}

// Equal reports whether both are None or both hold equal values.
func Equal[T comparable](a, b Optional[T]) bool {
	if a.IsSet != b.IsSet {
		return false
	}
	return !a.IsSet || a.Val == b.Val
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.IsSet {
		return []byte("null"), nil
	}
	return json.Marshal(o.Val)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		o.IsSet = false
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.IsSet = true
	o.Val = v
	return nil
}

// Scan implements the SQL driver.Scanner interface.
func (o *Optional[T]) Scan(value any) error {
	if value == nil {
		o.IsSet = false
		return nil
	}

	var v T
	switch t := any(&v).(type) {
	case interface{ Scan(any) error }:
		if err := t.Scan(value); err != nil {
			return err
		}
	default:
		converted, ok := value.(T)
		if !ok {
			return fmt.Errorf("util: cannot scan %T into Optional[%T]", value, v)
		}
		v = converted
	}

	o.Val = v
	o.IsSet = true

	return nil
}

// Value implements the driver Valuer interface.
func (o Optional[T]) Value() (driver.Value, error) {
	if !o.IsSet {
		return nil, nil
	}
	switch t := any(o.Val).(type) {
	case driver.Valuer:
		return t.Value()
	default:
		return o.Val, nil
	}
}

func (o Optional[T]) String() string {
	if !o.IsSet {
		return ""
	}

	return fmt.Sprintf("%v", o.Val)
}
