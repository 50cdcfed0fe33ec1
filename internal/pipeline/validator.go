package pipeline

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	blockIDPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("block_id", func(fl validator.FieldLevel) bool {
			return blockIDPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("block_kind", func(fl validator.FieldLevel) bool {
			return BlockKind(fl.Field().String()).Valid()
		})

		validateInst = v
	})

	return validateInst
}
