package validation

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/imtaco/stream-liveness/internal/errors"
)

const (
	ErrEngine  errors.Code = "validator_engine"
	ErrInvalid errors.Code = "invalid"
)

func MustRegisterGin(tag string, fn validator.Func) {
	if err := RegisterGin(tag, fn); err != nil {
		panic(err)
	}
}

func MustRegisterGinAlias(tag string, alias string) {
	if err := RegisterGinAlias(tag, alias); err != nil {
		panic(err)
	}
}

func Register(v *validator.Validate, tag string, fn validator.Func) error {
	return v.RegisterValidation(tag, fn)
}

func RegisterAlias(v *validator.Validate, tag string, alias string) {
	v.RegisterAlias(tag, alias)
}

func ginEngine() (*validator.Validate, error) {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return v, nil
	}
	return nil, errors.New(ErrEngine, "gin validator engine is not *validator.Validate")
}

func RegisterGin(tag string, fn validator.Func) error {
	v, err := ginEngine()
	if err != nil {
		return err
	}
	return Register(v, tag, fn)
}

func RegisterGinAlias(tag string, alias string) error {
	v, err := ginEngine()
	if err != nil {
		return err
	}
	RegisterAlias(v, tag, alias)
	return nil
}

// tagName reports fields under the first of the given struct tags, so errors
// name "streamId" or "poll.max_backoff" rather than Go field names.
func tagName(tags ...string) validator.TagNameFunc {
	return func(f reflect.StructField) string {
		for _, t := range tags {
			name, _, _ := strings.Cut(f.Tag.Get(t), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	}
}

// New returns a validator with the custom tags registered, for structs that
// are not bound through gin (config). Fields are named by mapstructure key.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(tagName("mapstructure"))
	registerCustom(v)
	return v
}

// Config validates a decoded config and folds every failure into one error.
func Config(cfg any) error {
	err := New().Struct(cfg)
	if err == nil {
		return nil
	}
	details := FormatValidationError(err)
	msgs := make([]string, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, d.String())
	}
	return errors.Newf(ErrInvalid, "invalid config: %s", strings.Join(msgs, "; "))
}

func init() {
	v, err := ginEngine()
	if err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(tagName("json", "uri", "form"))
	registerCustom(v)
}
