package functions

import (
	"strings"
	"time"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

func registerScalars(r *Registry) {
	r.Register(&FunctionInfo{Name: "abs", Scalar: ScalarFunc(fnAbs)})
	r.Register(&FunctionInfo{Name: "upper", Scalar: ScalarFunc(fnUpper)})
	r.Register(&FunctionInfo{Name: "lower", Scalar: ScalarFunc(fnLower)})
	r.Register(&FunctionInfo{Name: "length", Scalar: ScalarFunc(fnLength)})
	r.Register(&FunctionInfo{Name: "trim", Scalar: ScalarFunc(fnTrim)})
	r.Register(&FunctionInfo{Name: "substr", Scalar: ScalarFunc(fnSubstr)})
	r.Register(&FunctionInfo{Name: "concat", Scalar: ScalarFunc(fnConcat)})
	r.Register(&FunctionInfo{Name: "now", Scalar: ScalarFunc(fnNow)})
	r.Register(&FunctionInfo{Name: "coalesce", Scalar: ScalarFunc(fnCoalesce)})
}

func fnAbs(args []types.Value) (types.Value, error) {
	if len(args) != 1 {
		return types.Null, dberr.New(dberr.KindSemantic, "abs() takes exactly 1 argument")
	}
	v := args[0]
	if v.IsNull() {
		return types.Null, nil
	}
	switch v.Kind() {
	case types.KindInteger:
		n := v.Int()
		if n < 0 {
			n = -n
		}
		return types.NewInteger(n), nil
	case types.KindFloat:
		f := v.Float()
		if f < 0 {
			f = -f
		}
		return types.NewFloat(f), nil
	default:
		return types.Null, dberr.New(dberr.KindSemantic, "abs() requires a numeric argument")
	}
}

func fnUpper(args []types.Value) (types.Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return types.Null, nil
	}
	return types.NewText(strings.ToUpper(args[0].Text())), nil
}

func fnLower(args []types.Value) (types.Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return types.Null, nil
	}
	return types.NewText(strings.ToLower(args[0].Text())), nil
}

func fnLength(args []types.Value) (types.Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return types.Null, nil
	}
	return types.NewInteger(int64(len([]rune(args[0].Text())))), nil
}

func fnTrim(args []types.Value) (types.Value, error) {
	if len(args) != 1 || args[0].IsNull() {
		return types.Null, nil
	}
	return types.NewText(strings.TrimSpace(args[0].Text())), nil
}

func fnSubstr(args []types.Value) (types.Value, error) {
	if len(args) < 2 {
		return types.Null, dberr.New(dberr.KindSemantic, "substr() takes at least 2 arguments")
	}
	if args[0].IsNull() || args[1].IsNull() {
		return types.Null, nil
	}
	runes := []rune(args[0].Text())
	start := int(args[1].Int()) - 1 // SQL substr is 1-indexed
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	end := len(runes)
	if len(args) >= 3 && !args[2].IsNull() {
		l := int(args[2].Int())
		if start+l < end {
			end = start + l
		}
	}
	return types.NewText(string(runes[start:end])), nil
}

func fnConcat(args []types.Value) (types.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		if a.IsNull() {
			return types.Null, nil
		}
		sb.WriteString(a.String())
	}
	return types.NewText(sb.String()), nil
}

func fnNow([]types.Value) (types.Value, error) {
	return types.NewTimestamp(time.Now().UnixMicro()), nil
}

func fnCoalesce(args []types.Value) (types.Value, error) {
	for _, a := range args {
		if !a.IsNull() {
			return a, nil
		}
	}
	return types.Null, nil
}
