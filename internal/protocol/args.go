package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/text/unicode/norm"
)

// Kind tags the variant held by an Arg.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	default:
		return "string"
	}
}

// Arg is one typed message argument.
type Arg struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Int wraps an integer argument.
func Int(v int64) Arg { return Arg{kind: KindInt, i: v} }

// Float wraps a floating point argument.
func Float(v float64) Arg { return Arg{kind: KindFloat, f: v} }

// String wraps a string argument in NFC form.
func String(v string) Arg { return Arg{kind: KindString, s: norm.NFC.String(v)} }

// Strings wraps each value as a string argument.
func Strings(values ...string) []Arg {
	out := make([]Arg, 0, len(values))
	for _, v := range values {
		out = append(out, String(v))
	}
	return out
}

// ParseArg types literal command line text: only digits is an Int, digits
// with exactly one decimal point is a Float, anything else stays a String.
func ParseArg(text string) Arg {
	if isDigits(text) {
		if v, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(v)
		}
		return String(text)
	}
	if strings.Count(text, ".") == 1 {
		whole, frac, _ := strings.Cut(text, ".")
		if (whole != "" || frac != "") && (whole == "" || isDigits(whole)) && (frac == "" || isDigits(frac)) {
			if v, err := strconv.ParseFloat(text, 64); err == nil {
				return Float(v)
			}
		}
	}
	return String(text)
}

// ParseArgs types each literal in order.
func ParseArgs(texts []string) []Arg {
	out := make([]Arg, 0, len(texts))
	for _, t := range texts {
		out = append(out, ParseArg(t))
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a Arg) Kind() Kind { return a.kind }

// Int returns the integer value. ok is false for other kinds.
func (a Arg) Int() (int64, bool) { return a.i, a.kind == KindInt }

// Float returns the float value. ok is false for other kinds.
func (a Arg) Float() (float64, bool) { return a.f, a.kind == KindFloat }

// Str returns the string value. ok is false for other kinds.
func (a Arg) Str() (string, bool) { return a.s, a.kind == KindString }

// String renders the argument for display.
func (a Arg) String() string {
	switch a.kind {
	case KindInt:
		return strconv.FormatInt(a.i, 10)
	case KindFloat:
		return strconv.FormatFloat(a.f, 'f', -1, 64)
	default:
		return a.s
	}
}

// MarshalCBOR encodes the argument as its native CBOR type.
func (a Arg) MarshalCBOR() ([]byte, error) {
	switch a.kind {
	case KindInt:
		return cbor.Marshal(a.i)
	case KindFloat:
		return cbor.Marshal(a.f)
	default:
		return cbor.Marshal(a.s)
	}
}

// UnmarshalCBOR decodes an integer, float or text item.
func (a *Arg) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case uint64:
		if v > 1<<63-1 {
			return fmt.Errorf("integer argument overflows int64: %d", v)
		}
		*a = Int(int64(v))
	case int64:
		*a = Int(v)
	case float64:
		*a = Float(v)
	case float32:
		*a = Float(float64(v))
	case string:
		*a = String(v)
	default:
		return fmt.Errorf("unsupported argument type %T", raw)
	}
	return nil
}
