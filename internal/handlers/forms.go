package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/petermazzocco/go-image-sharing/internal/apperr"
)

const dateLayout = "2006-01-02"

var validate = newValidator()

// newValidator reports fields by their form names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

type loginForm struct {
	UserName   string `form:"UserName" validate:"required"`
	Password   string `form:"Password" validate:"required"`
	RememberMe bool   `form:"RememberMe"`
	ReturnURL  string `form:"ReturnUrl"`
}

type registerForm struct {
	Email           string `form:"Email" validate:"required,email"`
	Password        string `form:"Password" validate:"required"`
	ConfirmPassword string `form:"ConfirmPassword" validate:"required"`
	Ada             bool   `form:"ADA"`
}

type passwordForm struct {
	OldPassword     string `form:"OldPassword" validate:"required"`
	NewPassword     string `form:"NewPassword" validate:"required"`
	ConfirmPassword string `form:"ConfirmPassword" validate:"required"`
}

type imageForm struct {
	Caption     string `form:"Caption" validate:"required,max=40"`
	Description string `form:"Description" validate:"max=200"`
	DateTaken   string `form:"DateTaken" validate:"required,datetime=2006-01-02"`
	TagID       string `form:"TagId" validate:"omitempty,number"`
}

func checkbox(r *http.Request, name string) bool {
	switch r.PostFormValue(name) {
	case "on", "true", "1":
		return true
	}
	return false
}

func parseLogin(r *http.Request) loginForm {
	return loginForm{
		UserName:   r.PostFormValue("UserName"),
		Password:   r.PostFormValue("Password"),
		RememberMe: checkbox(r, "RememberMe"),
		ReturnURL:  r.FormValue("ReturnUrl"),
	}
}

func parseRegister(r *http.Request) registerForm {
	return registerForm{
		Email:           r.PostFormValue("Email"),
		Password:        r.PostFormValue("Password"),
		ConfirmPassword: r.PostFormValue("ConfirmPassword"),
		Ada:             checkbox(r, "ADA"),
	}
}

func parsePassword(r *http.Request) passwordForm {
	return passwordForm{
		OldPassword:     r.PostFormValue("OldPassword"),
		NewPassword:     r.PostFormValue("NewPassword"),
		ConfirmPassword: r.PostFormValue("ConfirmPassword"),
	}
}

func parseImage(r *http.Request) imageForm {
	return imageForm{
		Caption:     r.FormValue("Caption"),
		Description: r.FormValue("Description"),
		DateTaken:   r.FormValue("DateTaken"),
		TagID:       r.FormValue("TagId"),
	}
}

func (f imageForm) date() time.Time {
	d, _ := time.Parse(dateLayout, f.DateTaken)
	return d
}

func (f imageForm) tag() uint {
	id, _ := strconv.ParseUint(f.TagID, 10, 32)
	return uint(id)
}

// check validates form and converts failures into a validation error keyed
// by field name.
func check(form any) error {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err, "validate form")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return apperr.Validation("invalid form", fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "max":
		return fmt.Sprintf("The %s field cannot be longer than %s characters.", fe.Field(), fe.Param())
	case "email":
		return "Please provide a valid email address."
	case "datetime":
		return fmt.Sprintf("The %s field must be a date formatted as YYYY-MM-DD.", fe.Field())
	default:
		return fmt.Sprintf("The %s field is invalid.", fe.Field())
	}
}

func parseUint(s string) (uint, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
