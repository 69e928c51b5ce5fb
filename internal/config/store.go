package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Store wraps a Config behind a RWMutex and exposes individual values by
// dotted path ("confidence.thresholds.auto_execute"). Paths follow the
// yaml tags. The evolver reads and writes experiment targets through
// this interface; UpdateConfig applies operator patches the same way.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore wraps cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Get resolves a dotted path to its current value.
func (s *Store) Get(target string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, err := resolve(reflect.ValueOf(&s.cfg).Elem(), target)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// Set writes a single value by dotted path, validating the resulting
// config before committing. On validation failure the old value is kept.
func (s *Store) Set(target string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	v, err := resolve(reflect.ValueOf(&next).Elem(), target)
	if err != nil {
		return err
	}
	if err := coerce(v, value); err != nil {
		return fmt.Errorf("cannot set %s: %w", target, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("rejected %s=%v: %w", target, value, err)
	}
	s.cfg = next
	return nil
}

// Apply sets multiple dotted-path values as one patch. The patch is
// all-or-nothing: any bad key or validation failure leaves the config
// untouched.
func (s *Store) Apply(changes map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	for target, value := range changes {
		v, err := resolve(reflect.ValueOf(&next).Elem(), target)
		if err != nil {
			return err
		}
		if err := coerce(v, value); err != nil {
			return fmt.Errorf("cannot set %s: %w", target, err)
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// resolve walks struct fields by yaml tag following a dotted path.
func resolve(v reflect.Value, target string) (reflect.Value, error) {
	parts := strings.Split(target, ".")
	for _, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("config path %q: %q is not a section", target, part)
		}
		found := false
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
			if tag == part {
				v = v.Field(i)
				found = true
				break
			}
		}
		if !found {
			return reflect.Value{}, fmt.Errorf("unknown config path %q (no field %q)", target, part)
		}
	}
	return v, nil
}

// coerce assigns value into field, converting across the types that YAML
// and JSON decoding produce (float64 for all numbers, strings for
// durations).
func coerce(field reflect.Value, value any) error {
	if field.Type() == reflect.TypeOf(Duration(0)) {
		switch x := value.(type) {
		case string:
			d, err := time.ParseDuration(x)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", x, err)
			}
			field.Set(reflect.ValueOf(Duration(d)))
			return nil
		case float64:
			field.Set(reflect.ValueOf(Duration(int64(x))))
			return nil
		case int64:
			field.Set(reflect.ValueOf(Duration(x)))
			return nil
		case Duration:
			field.Set(reflect.ValueOf(x))
			return nil
		case time.Duration:
			field.Set(reflect.ValueOf(Duration(x)))
			return nil
		}
		return fmt.Errorf("expected duration, got %T", value)
	}

	switch field.Kind() {
	case reflect.Int, reflect.Int64:
		switch x := value.(type) {
		case int:
			field.SetInt(int64(x))
		case int64:
			field.SetInt(x)
		case float64:
			field.SetInt(int64(x))
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case reflect.Float64:
		switch x := value.(type) {
		case float64:
			field.SetFloat(x)
		case int:
			field.SetFloat(float64(x))
		case int64:
			field.SetFloat(float64(x))
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case reflect.Bool:
		x, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		field.SetBool(x)
	case reflect.String:
		x, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		field.SetString(x)
	case reflect.Struct:
		return fmt.Errorf("path names a section, not a value")
	default:
		return fmt.Errorf("unsupported config value kind %s", field.Kind())
	}
	return nil
}
