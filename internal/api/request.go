package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// projectIDPattern keeps <prefix>-<project_id> a valid hostname label.
var projectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

type screenshotRequest struct {
	ProjectID string `json:"project_id" validate:"required,max=63,project_id"`
}

type screenshotResponse struct {
	Status    string `json:"status"`
	AppName   string `json:"app_name"`
	ProjectID string `json:"project_id"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	_ = v.RegisterValidation("project_id", func(fl validator.FieldLevel) bool {
		return projectIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// decodeScreenshotRequest parses and validates the body. Errors are safe to
// return to the caller.
func decodeScreenshotRequest(v *validator.Validate, w http.ResponseWriter, r *http.Request) (screenshotRequest, error) {
	var req screenshotRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.New("request body is required")
		}
		return req, errors.New("invalid JSON")
	}
	if err := v.Struct(req); err != nil {
		return req, validationMessage(err)
	}
	return req, nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.New("invalid request")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", fe.Field())
	case "max":
		return fmt.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Errorf("%s must contain only letters, digits and inner hyphens", fe.Field())
	}
}
