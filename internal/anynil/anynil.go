// Package anynil detects nil values hidden behind interfaces.
package anynil

import "reflect"

// Is returns true if value is any type of nil. e.g. nil, (*int)(nil) or []byte(nil).
func Is(value any) bool {
	if value == nil {
		return true
	}

	refVal := reflect.ValueOf(value)
	switch refVal.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Slice:
		return refVal.IsNil()
	default:
		return false
	}
}

// Deref follows pointers until it reaches a non-pointer value. Any nil along the way, typed or not,
// results in an untyped nil.
func Deref(value any) any {
	if Is(value) {
		return nil
	}

	refVal := reflect.ValueOf(value)
	for refVal.Kind() == reflect.Ptr {
		if refVal.IsNil() {
			return nil
		}
		refVal = refVal.Elem()
	}
	return refVal.Interface()
}
