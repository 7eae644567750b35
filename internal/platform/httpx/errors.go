package httpx

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/portside-host/portside/internal/apperr"
)

// NewValidator builds a validator that reports fields by their json tag
// so source_field matches the wire format.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorBody is the stable error envelope shared by all endpoints.
type ErrorBody struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject is a single entry in the errors array.
type ErrorObject struct {
	Code   string     `json:"code"`
	Status string     `json:"status"`
	Detail string     `json:"detail"`
	Meta   *ErrorMeta `json:"meta,omitempty"`
}

// ErrorMeta names the field and rule behind a validation failure.
type ErrorMeta struct {
	SourceField string `json:"source_field,omitempty"`
	Rule        string `json:"rule,omitempty"`
}

// RespondError converts any error into the error envelope. Unrecognised
// errors are masked as InternalError so no raw failure text leaks out.
func RespondError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	obj := ErrorObject{
		Code:   string(appErr.Code),
		Status: strconv.Itoa(appErr.Status),
		Detail: appErr.Detail,
	}
	if appErr.SourceField != "" || appErr.Rule != "" {
		obj.Meta = &ErrorMeta{SourceField: appErr.SourceField, Rule: appErr.Rule}
	}
	JSON(w, appErr.Status, ErrorBody{Errors: []ErrorObject{obj}})
}

// RespondValidation converts validator.v10 output into one 422 entry per
// failed field.
func RespondValidation(w http.ResponseWriter, err error) {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		RespondError(w, apperr.Validation("", "invalid", "The request body could not be validated."))
		return
	}
	objs := make([]ErrorObject, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		objs = append(objs, ErrorObject{
			Code:   string(apperr.CodeValidation),
			Status: strconv.Itoa(http.StatusUnprocessableEntity),
			Detail: "The " + fe.Field() + " field is invalid.",
			Meta:   &ErrorMeta{SourceField: fe.Field(), Rule: fe.Tag()},
		})
	}
	JSON(w, http.StatusUnprocessableEntity, ErrorBody{Errors: objs})
}
