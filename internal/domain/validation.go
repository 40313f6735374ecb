package domain

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"safebank/internal/errors"
)

const (
	MaxBalanceDigits   = 10
	MaxFractionDigits  = 2
	accountNumberRegex = `^ACC[0-9]{3,17}$`

	// Bounds on the decimal representation accepted before any formatting or
	// arithmetic. Trailing zeros are allowed up to minMoneyExponent.
	minMoneyExponent   = -20
	maxMoneyExponent   = MaxBalanceDigits
	maxCoefficientBits = 128
)

var (
	MaxBalance = decimal.RequireFromString("10000000.00")

	accountNumberPattern = regexp.MustCompile(accountNumberRegex)
	validate             = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// Money is validated in its canonical string form. Values outside the
	// accepted scale are never formatted and fail the amount rule.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		if !InMoneyRange(d) {
			return ""
		}
		return d.String()
	}, decimal.Decimal{})

	rules := map[string]validator.Func{
		"notblank":      notBlank,
		"accountnumber": accountNumber,
		"amount":        moneyRule(func(decimal.Decimal) bool { return true }),
		"nonnegative":   moneyRule(func(d decimal.Decimal) bool { return !d.IsNegative() }),
		"maxbalance":    moneyRule(func(d decimal.Decimal) bool { return d.LessThanOrEqual(MaxBalance) }),
		"cents":         moneyRule(withinDigits),
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("register %s validation: %v", tag, err))
		}
	}
	// money expands to the full balance rule set, checked in order.
	v.RegisterAlias("money", "amount,nonnegative,maxbalance,cents")

	return v
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func accountNumber(fl validator.FieldLevel) bool {
	return accountNumberPattern.MatchString(fl.Field().String())
}

func moneyRule(check func(decimal.Decimal) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return check(d)
	}
}

// InMoneyRange reports whether d has a scale and precision that can be
// formatted, compared and added in constant time. It never rescales d.
func InMoneyRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	if exp < minMoneyExponent || exp > maxMoneyExponent {
		return false
	}
	return d.Coefficient().BitLen() <= maxCoefficientBits
}

// withinDigits ignores trailing fractional zeros, so 500.330 counts as 500.33.
func withinDigits(d decimal.Decimal) bool {
	if !d.Equal(d.Truncate(MaxFractionDigits)) {
		return false
	}
	return len(d.Abs().Truncate(0).String()) <= MaxBalanceDigits
}

// ValidateInput checks candidate fields against every account invariant except
// account number uniqueness, which needs the store. It returns all violations,
// or nil when the candidate is valid.
func ValidateInput(in AccountInput) []errors.FieldViolation {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []errors.FieldViolation{{Field: "account", Message: err.Error()}}
	}

	violations := make([]errors.FieldViolation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, errors.FieldViolation{
			Field:   fe.Field(),
			Message: violationMessage(fe),
		})
	}
	return violations
}

// Validate checks a fully formed record, as produced by an update, deposit
// or withdrawal, before it is persisted.
func (a Account) Validate() []errors.FieldViolation {
	return ValidateInput(a.Input())
}

func violationMessage(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "accountnumber":
		return "must be 'ACC' followed by 3 to 17 digits"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "amount":
		return fmt.Sprintf("must be a decimal amount with at most %d integer and %d fractional digits", MaxBalanceDigits, MaxFractionDigits)
	case "nonnegative":
		return "must not be negative"
	case "maxbalance":
		return fmt.Sprintf("must not exceed %s", MaxBalance.StringFixed(MaxFractionDigits))
	case "cents":
		return fmt.Sprintf("must have at most %d integer and %d fractional digits", MaxBalanceDigits, MaxFractionDigits)
	default:
		return "is invalid"
	}
}
