package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Subject is the person a consult is about.
type Subject struct {
	NationalID string `json:"cpf"                  db:"cpf"        validate:"required,len=11,numeric"`
	Name       string `json:"nome"                 db:"nome"       validate:"required,max=255"`
	Phone      string `json:"telefone,omitempty"   db:"telefone"   validate:"omitempty,max=20"`
	BirthDate  string `json:"nascimento,omitempty" db:"nascimento" validate:"omitempty,datetime=2006-01-02"`
	Email      string `json:"email,omitempty"      db:"email"      validate:"omitempty,email"`
	Gender     string `json:"sexo,omitempty"       db:"sexo"       validate:"omitempty,oneof=M F"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func subjectValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the subject after normalization.
func (s Subject) Validate() error {
	err := subjectValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid subject: %s", strings.Join(parts, "; "))
}
