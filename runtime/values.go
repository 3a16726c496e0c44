package runtime

import (
	stderrors "errors"
	"math"
	"strconv"

	"github.com/wippyai/wasm2ir/errors"
	"github.com/wippyai/wasm2ir/il"
)

// Encode parses s as a value of type t. Integers accept signed and
// unsigned forms and the 0x prefix.
func Encode(t il.Type, s string) (uint64, error) {
	bad := func(err error) error {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Want(t.String()).
			Got(strconv.Quote(s)).
			Cause(err).
			Build()
	}
	switch t {
	case il.I32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return uint64(uint32(int32(v))), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, bad(err)
		}
		return v, nil
	case il.I64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return uint64(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, bad(err)
		}
		return v, nil
	case il.F32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return 0, bad(err)
		}
		return uint64(math.Float32bits(float32(v))), nil
	case il.F64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, bad(err)
		}
		return math.Float64bits(v), nil
	}
	return 0, bad(nil)
}

// EncodeArgs parses one argument per parameter of sig.
func EncodeArgs(sig il.Signature, args []string) ([]uint64, error) {
	if len(args) != len(sig.Params) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Want(strconv.Itoa(len(sig.Params)) + " arguments").
			Got(strconv.Itoa(len(args)) + " arguments").
			Build()
	}
	out := make([]uint64, len(args))
	for i, a := range args {
		v, err := Encode(sig.Params[i], a)
		if err != nil {
			var e *errors.Error
			if stderrors.As(err, &e) {
				return nil, e.WithPath("arg" + strconv.Itoa(i))
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Format renders v as a value of type t. Integers print signed.
func Format(t il.Type, v uint64) string {
	switch t {
	case il.I32:
		return strconv.FormatInt(int64(int32(v)), 10)
	case il.I64:
		return strconv.FormatInt(int64(v), 10)
	case il.F32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v))), 'g', -1, 32)
	case il.F64:
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	}
	return ""
}
