package checkout

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/yashrajoria/storefront-core/common/errors"
	"github.com/yashrajoria/storefront-core/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateDraft checks a draft locally. Shipping is only checked when it differs from billing.
// The returned error is a Validation error whose Fields map json paths to the failed rule.
func ValidateDraft(d models.CheckoutDraft) error {
	fields := map[string]string{}

	collect(fields, "", validate.StructExcept(d, "Shipping"))
	if d.ShipToDifferentAddress {
		collect(fields, "shipping.", validate.Struct(d.Shipping))
	}
	if strings.TrimSpace(d.Billing.Email) == "" {
		fields["billing.email"] = "required"
	}
	if !d.TermsAccepted {
		fields["terms_accepted"] = "required"
	}

	if len(fields) > 0 {
		return apperrors.Validation("Please check the highlighted checkout fields.", fields)
	}
	return nil
}

func collect(fields map[string]string, prefix string, err error) {
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields[prefix+"_"] = err.Error()
		return
	}
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		fields[prefix+ns] = fe.Tag()
	}
}
