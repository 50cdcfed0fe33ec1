package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
	})
	return validatorInst
}

func convertValidationError(err error) error {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return streamerrors.NewValidationError("settings", invalid.Error(), invalid)
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return streamerrors.NewValidationError(
			first.Namespace(),
			fmt.Sprintf("failed %q validation", first.Tag()),
			err,
		)
	}
	return streamerrors.NewValidationError("settings", err.Error(), err)
}
