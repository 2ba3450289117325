package watch

import (
	"reflect"
	"strings"
	"surgerywatch/internal/scrapers/tracker"
	"time"
)

// StatusChange is one field that differs between two snapshots of a patient. Old and New
// hold the dereferenced field values, nil for an absent optional field.
type StatusChange struct {
	Property string
	Old      any
	New      any
}

// DetectChanges compares every field of two snapshots and returns a change per field that
// differs, in the order the fields are declared.
func DetectChanges(previous, current tracker.PatientStatus) []StatusChange {
	previousValue := reflect.ValueOf(previous)
	currentValue := reflect.ValueOf(current)
	statusType := previousValue.Type()

	var changes []StatusChange
	for i := 0; i < statusType.NumField(); i++ {
		field := statusType.Field(i)
		if !field.IsExported() {
			continue
		}

		before := deref(previousValue.Field(i))
		after := deref(currentValue.Field(i))
		if fieldEqual(before, after) {
			continue
		}

		changes = append(changes, StatusChange{
			Property: propertyName(field),
			Old:      before,
			New:      after,
		})
	}
	return changes
}

func deref(value reflect.Value) any {
	if value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}
		return value.Elem().Interface()
	}
	return value.Interface()
}

func fieldEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func propertyName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
