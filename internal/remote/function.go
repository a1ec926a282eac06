package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"rpcdemo/internal/coalescer"
)

var validate = newValidator()

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return fld.Name
		}
		return name
	})
	return v
}

// Query creates a read-only function. Results may be cached and identical
// concurrent calls share one execution.
func Query[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) *Function {
	return &Function{
		name: name,
		kind: KindQuery,
		call: jsonCall(name, fn),
	}
}

// Command creates a function with side effects. It is never cached or deduplicated.
func Command[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) *Function {
	return &Function{
		name: name,
		kind: KindCommand,
		call: jsonCall(name, fn),
	}
}

// Form creates a function that accepts either JSON params or form values
func Form[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) *Function {
	return &Function{
		name: name,
		kind: KindForm,
		call: jsonCall(name, fn),
		callForm: func(ctx context.Context, values url.Values) (interface{}, error) {
			in, err := decodeForm[In](name, values)
			if err != nil {
				return nil, err
			}
			out, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

// Batch creates a function taking a single string key. Calls arriving in the
// same window are resolved together by one resolver call. Keys the resolver
// has no result for yield null.
func Batch[Out any](cfg coalescer.Config, resolver coalescer.Resolver[string, Out]) *Function {
	c := coalescer.New(cfg, resolver)
	name := cfg.Name

	return &Function{
		name: name,
		kind: KindBatch,
		call: func(ctx context.Context, params json.RawMessage) (interface{}, error) {
			var key string
			if err := json.Unmarshal(params, &key); err != nil {
				return nil, &ValidationError{Function: name, Issues: []Issue{{Message: "Expected string"}}}
			}

			value, found, err := c.Load(ctx, key)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, nil
			}
			return value, nil
		},
		stats: c.Stats,
		flush: c.Flush,
	}
}

// jsonCall wraps fn with JSON decoding, defaults and validation
func jsonCall[In, Out any](name string, fn func(ctx context.Context, in In) (Out, error)) func(context.Context, json.RawMessage) (interface{}, error) {
	return func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		in, err := decodeJSON[In](name, params)
		if err != nil {
			return nil, err
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// decodeJSON decodes params into In. Missing or null params decode as an empty object.
func decodeJSON[In any](name string, params json.RawMessage) (In, error) {
	var in In
	trimmed := strings.TrimSpace(string(params))
	if trimmed == "" || trimmed == "null" {
		params = json.RawMessage("{}")
	}

	if err := json.Unmarshal(params, &in); err != nil {
		return in, &ValidationError{Function: name, Issues: []Issue{{Message: fmt.Sprintf("malformed input: %v", err)}}}
	}
	return in, prepare(name, &in)
}

// decodeForm converts form values into In, through FormDecoder when In implements it
func decodeForm[In any](name string, values url.Values) (In, error) {
	var in In
	if d, ok := any(&in).(FormDecoder); ok {
		if err := d.DecodeForm(values); err != nil {
			return in, asValidationError(name, err)
		}
		return in, prepare(name, &in)
	}

	flat := make(map[string]string, len(values))
	for key := range values {
		flat[key] = values.Get(key)
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return in, err
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return in, &ValidationError{Function: name, Issues: []Issue{{Message: fmt.Sprintf("malformed form: %v", err)}}}
	}
	return in, prepare(name, &in)
}

// prepare applies defaults and validates struct inputs
func prepare[In any](name string, in *In) error {
	if d, ok := any(in).(Defaulter); ok {
		d.ApplyDefaults()
	}

	v := reflect.ValueOf(in).Elem()
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	if err := validate.Struct(v.Interface()); err != nil {
		return asValidationError(name, err)
	}
	return nil
}

func asValidationError(name string, err error) error {
	var existing *ValidationError
	if errors.As(err, &existing) {
		return existing
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Function: name, Issues: []Issue{{Message: err.Error()}}}
	}

	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, Issue{Field: fe.Field(), Message: issueMessage(fe)})
	}
	return &ValidationError{Function: name, Issues: issues}
}

func issueMessage(fe validator.FieldError) string {
	label := fe.Field()
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}

	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "min":
		if fe.Kind() == reflect.String {
			if fe.Param() == "1" {
				return label + " is required"
			}
			return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", label, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", label, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", label, fe.Tag())
	}
}
