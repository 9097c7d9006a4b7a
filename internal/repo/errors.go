package repo

import (
	"errors"
	"fmt"

	"espvote/internal/codec"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrConflict           = errors.New("conflict")
	ErrStoreFault         = errors.New("store fault")

	// ErrValidation — тот же вид ошибки, что и у кодека.
	ErrValidation = codec.ErrValidation
)

// fault оборачивает ошибку БД в ErrStoreFault. Доменные ошибки проходят как есть.
func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrPreconditionFailed),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrStoreFault):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFault, op, err)
}
