// pkg/validate/validate.go
package validate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

// engine is shared by every input type. Rules are registered at init only.
var engine = newEngine()

func newEngine() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		return f.Interface().(web.Date).Time
	}, web.Date{})

	must(v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}))
	must(v.RegisterValidationCtx("notfuture", func(ctx context.Context, fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && !t.After(todayFrom(ctx))
	}))
	must(v.RegisterValidationCtx("past", func(ctx context.Context, fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		return ok && (t.IsZero() || t.Before(todayFrom(ctx)))
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// RegisterRule adds a string rule under tag. Call it from an init function.
func RegisterRule(tag string, fn func(string) bool) {
	must(engine.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	}))
}

type todayKey struct{}

// WithToday sets the reference date the notfuture and past rules compare against.
func WithToday(ctx context.Context, today time.Time) context.Context {
	return context.WithValue(ctx, todayKey{}, today)
}

func todayFrom(ctx context.Context) time.Time {
	if t, ok := ctx.Value(todayKey{}).(time.Time); ok {
		return t
	}
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Problems collects field problems and reports them as one validation error.
type Problems struct {
	list []string
}

// Struct runs the validate tags of s.
func Struct(ctx context.Context, s any) *Problems {
	p := &Problems{}
	p.add(engine.StructCtx(ctx, s), "")
	return p
}

// Var runs tag against a single value reported as field.
func Var(ctx context.Context, field string, value any, tag string) *Problems {
	p := &Problems{}
	p.add(engine.VarCtx(ctx, value, tag), field)
	return p
}

func (p *Problems) add(err error, field string) {
	if err == nil {
		return
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		p.list = append(p.list, err.Error())
		return
	}
	for _, fe := range errs {
		p.list = append(p.list, message(fe, field))
	}
}

// Check records msg when ok is false, for rules tags cannot express.
func (p *Problems) Check(ok bool, msg string) *Problems {
	if !ok {
		p.list = append(p.list, msg)
	}
	return p
}

func (p *Problems) Valid() bool {
	return len(p.list) == 0
}

// Err returns nil or a VALIDATION_FAILED error listing every problem.
func (p *Problems) Err() error {
	if p.Valid() {
		return nil
	}
	return apperr.Invalid("%s", strings.Join(p.list, "; "))
}

func message(fe validator.FieldError, field string) string {
	if field == "" {
		field = fe.Field()
	}
	switch fe.Tag() {
	case "required", "notblank":
		return field + " is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not exceed %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		if fe.Param() == "0" {
			return field + " cannot be negative"
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s cannot exceed %s", field, lowerFirst(fe.Param()))
	case "notfuture":
		return field + " cannot be in the future"
	case "past":
		return field + " must be in the past"
	}
	return "invalid " + field + " format"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
