package model

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// NewValidator returns the shared struct validator.
func NewValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks a configuration struct against its validate tags.
//
// Arguments:
//   - variant: Variant name used in the error message.
//   - cfg: Pointer to, or value of, a configuration struct.
//
// Returns:
//   - nil if the configuration is valid.
//   - ErrInvalidConfig wrapping every failed field otherwise.
func Validate(variant Name, cfg any) error {
	err := NewValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Wrapf(ErrInvalidConfig, "%s: %v", variant, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace()+" failed "+fe.Tag()+" "+fe.Param())
	}
	return errors.Wrapf(ErrInvalidConfig, "%s: %s", variant, strings.Join(fields, "; "))
}
