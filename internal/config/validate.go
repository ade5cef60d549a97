package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			_, err := ParseDurationField(fl.FieldName(), fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

// Validate checks cfg for structural errors. All problems are reported in
// one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return path + " is required"
	case "duration":
		return fmt.Sprintf("%s: invalid duration %q", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "url":
		return fmt.Sprintf("%s: invalid url %q", path, fe.Value())
	case "min", "max":
		return fmt.Sprintf("%s must be %s %s", path, map[string]string{"min": ">=", "max": "<="}[fe.Tag()], fe.Param())
	}
	return fmt.Sprintf("%s failed %s", path, fe.Tag())
}
