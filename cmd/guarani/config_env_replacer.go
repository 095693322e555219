package main

import (
	"reflect"
)

// replaceEnvKeys walks data and replaces any string field longer than two
// characters whose value begins with "$" with getenv of everything after the
// "$". Used to let a YAML
// config file reference environment variables for secrets (client secrets,
// TLS paths) without checking them into the file itself. Static user
// password hashes that happen to be raw bcrypt (which also begin with "$")
// should be supplied base64-encoded or via hashFromEnv to avoid colliding
// with this substitution.
func replaceEnvKeys(data interface{}, getenv func(string) string) error {
	val := reflect.ValueOf(data)

	// Elem() only works on interfaces and pointers. We probably only want Ptr's, tho...
	if val.Kind() != reflect.Interface && val.Kind() != reflect.Ptr {
		return nil
	}

	s := val.Elem()

	// Skip things we cannot modify
	if !s.CanSet() {
		return nil
	}

	// Convert strings if they start with '$'
	if s.Kind() == reflect.String {
		value := s.Interface().(string)
		if len(value) > 2 && string(value[0]) == "$" {
			s.SetString(getenv(value[1:]))
		}
		return nil
	}

	// Structs
	if s.Kind() == reflect.Struct {
		for i := 0; i < s.NumField(); i++ {
			f := s.Field(i)

			// Recurse through fields
			if err := replaceEnvKeys(f.Addr().Interface(), getenv); err != nil {
				return err
			}
		}
		return nil
	}

	// Slices
	if s.Kind() == reflect.Slice {
		for i := 0; i < s.Len(); i++ {
			if err := replaceEnvKeys(s.Index(i).Addr().Interface(), getenv); err != nil {
				return err
			}
		}
		return nil
	}

	return nil
}
