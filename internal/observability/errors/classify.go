// Package errors normalises errors into short class names for metric tags and alerts.
package errors

import (
	goerrors "errors"
	"reflect"
	"strings"
	"unicode"
)

const maxClassLen = 48

// Classed lets an error choose its own class name.
type Classed interface {
	ErrorClass() string
}

// Classify returns a normalized error class suitable for tagging metrics and alerts.
// An error in the chain implementing Classed wins. Otherwise the chain is unwrapped,
// following the first branch of joined errors, and the innermost error's type names
// the class. Plain sentinel errors are named by their message.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var c Classed
	if goerrors.As(err, &c) {
		if class := strings.TrimSpace(c.ErrorClass()); class != "" {
			return class
		}
	}

	err = innermost(err)

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "errors_errorstring" {
		if slug := slugify(err.Error()); slug != "" {
			return slug
		}
	}
	if name == "" {
		return "unknown"
	}
	return name
}

func innermost(err error) error {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err
			}
			err = next
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 || errs[0] == nil {
				return err
			}
			err = errs[0]
		default:
			return err
		}
	}
}

func slugify(msg string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(msg) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
		if b.Len() >= maxClassLen {
			break
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > maxClassLen {
		out = strings.TrimRight(out[:maxClassLen], "_")
	}
	return out
}
