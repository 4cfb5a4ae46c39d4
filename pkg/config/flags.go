package config

import (
	"strconv"
)

// OptionalValue is a flag that may be given bare ("-pin") or with a value
// ("-pin=123456"). A bare flag reports Set without HasValue.
type OptionalValue struct {
	Set      bool
	Value    string
	HasValue bool
}

// String returns the value, or "" for a bare flag.
func (o *OptionalValue) String() string {
	if o == nil || !o.HasValue {
		return ""
	}
	return o.Value
}

// SetValue records one occurrence. The flag package passes "true" for a
// bare flag.
func (o *OptionalValue) SetValue(s string) {
	o.Set = true
	if s == "true" {
		o.Value, o.HasValue = "", false
		return
	}
	o.Value, o.HasValue = s, true
}

// optionalFlag adapts OptionalValue to flag.Value without exporting a Set
// method that collides with the Set field.
type optionalFlag struct{ v *OptionalValue }

func (f optionalFlag) String() string {
	if f.v == nil {
		return ""
	}
	return f.v.String()
}

func (f optionalFlag) Set(s string) error {
	f.v.SetValue(s)
	return nil
}

// IsBoolFlag lets the flag package accept the bare form.
func (f optionalFlag) IsBoolFlag() bool { return true }

// countFlag counts how often a bare flag was given, e.g. "-v -v".
type countFlag struct{ n *int }

func (c countFlag) String() string {
	if c.n == nil {
		return "0"
	}
	return strconv.Itoa(*c.n)
}

func (c countFlag) Set(s string) error {
	if s == "true" {
		*c.n++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*c.n = n
	return nil
}

func (c countFlag) IsBoolFlag() bool { return true }
