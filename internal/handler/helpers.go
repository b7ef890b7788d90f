package handler

import (
	"errors"
	"net/http"
	"reflect"

	"github.com/verilians/VeriPharm-sub000/internal/apierror"
	"github.com/verilians/VeriPharm-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails —
// the caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid JSON: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		for _, fe := range err.(validator.ValidationErrors) {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

// respondServiceError maps the engine's typed faults to HTTP statuses.
// Anything that is not a Fault falls through to 400 with the error text,
// same as the rest of the service surface.
func respondServiceError(c *gin.Context, err error) {
	var fault *service.Fault
	if errors.As(err, &fault) {
		switch fault.Kind {
		case service.FaultValidation:
			c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
		case service.FaultVersionConflict:
			c.JSON(http.StatusConflict, apierror.New(err.Error()))
		case service.FaultStoreUnavailable:
			c.JSON(http.StatusServiceUnavailable, apierror.New("store temporarily unavailable, please retry"))
		default:
			c.JSON(http.StatusInternalServerError, apierror.New("internal error"))
		}
		return
	}
	c.JSON(http.StatusBadRequest, apierror.New(err.Error()))
}
