package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
)

var (
	validate     *validator.Validate
	identPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)
)

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("cron", validateCron)
	_ = validate.RegisterValidation("tradedate", validateTradeDate)
	_ = validate.RegisterValidation("ident", validateIdent)
}

// validateCron accepts an empty schedule, an advisory tag or a cron expression
func validateCron(fl validator.FieldLevel) bool {
	expr := fl.Field().String()
	if expr == "" {
		return true
	}
	_, ok := scheduler.ResolveSchedule(expr)
	return ok
}

// validateTradeDate accepts YYYYMMDD or YYYY-MM-DD
func validateTradeDate(fl validator.FieldLevel) bool {
	_, err := tradedate.Normalize(fl.Field().String())
	return err == nil
}

func validateIdent(fl validator.FieldLevel) bool {
	return identPattern.MatchString(fl.Field().String())
}

// ValidateRequest validates a request struct
func ValidateRequest(obj interface{}) error {
	return validate.Struct(obj)
}

// ValidationErrorResponse converts validator errors to a readable format
func ValidationErrorResponse(err error) map[string]interface{} {
	details := make(map[string]interface{})

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		details["validation"] = err.Error()
		return details
	}

	for _, fieldError := range validationErrors {
		field := fieldError.Field()

		var message string
		switch fieldError.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "min":
			message = fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", field, fieldError.Param())
		case "cron":
			message = fmt.Sprintf("%s must be a schedule tag or a valid cron expression", field)
		case "tradedate":
			message = fmt.Sprintf("%s must be a date in YYYYMMDD form", field)
		case "ident":
			message = fmt.Sprintf("%s must contain only letters, digits, '_', '-' or '.'", field)
		default:
			message = fmt.Sprintf("%s failed validation: %s", field, fieldError.Tag())
		}
		details[fieldError.Namespace()] = message
	}
	return details
}

// BindAndValidate binds and validates a JSON request body. An empty body
// validates the zero value.
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(obj); err != nil {
			AbortWithError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return false
		}
	}

	if err := ValidateRequest(obj); err != nil {
		details := ValidationErrorResponse(err)
		AbortWithErrorDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
		return false
	}

	return true
}
