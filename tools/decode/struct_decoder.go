package decode

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
)

// Options customizes Decode behavior.
type Options struct {
	// WeaklyTypedInput enables loose decoding (default true):
	// e.g. "123" -> int, 1.0 -> int64.
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{WeaklyTypedInput: true}
}

func WithWeaklyTypedInput(v bool) Options {
	return Options{WeaklyTypedInput: v}
}

// DecodeMap decodes a dynamic map payload into an arbitrary struct T.
// T is typically a business payload such as JoinPayload / WatchPayload.
// Struct fields are matched by their `json` tag.
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("payload is nil")
	}

	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(floatToIntHook()),
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, err
	}
	return &out, nil
}

// floatToIntHook converts JSON numbers (float64) to integer fields without
// losing exact values; "1e3"-style strings go through strconv.
func floatToIntHook() mapstructure.DecodeHookFuncKind {
	return func(from reflect.Kind, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f := data.(float64)
			i := int64(f)
			if float64(i) != f {
				return nil, fmt.Errorf("cannot decode %s to integer", strconv.FormatFloat(f, 'g', -1, 64))
			}
			return i, nil
		default:
			return data, nil
		}
	}
}
