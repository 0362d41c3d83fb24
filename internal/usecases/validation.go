package usecases

import (
	"fmt"

	"github.com/google/uuid"
	passwordvalidator "github.com/wagslane/go-password-validator"
)

const PasswordMinEntropyBits = 50

func ValidateUUID(rawUUID string) bool {
	_, err := uuid.Parse(rawUUID)
	return err == nil
}

// ValidatePassword rejects passwords below PasswordMinEntropyBits.
func ValidatePassword(password string) error {
	if err := passwordvalidator.Validate(password, PasswordMinEntropyBits); err != nil {
		return fmt.Errorf("%w: %v", ErrBusinessLogicViolation, err)
	}
	return nil
}
