package checkout

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quantedge-limited/incontrol-lite-pf-sub000/internal/domain"
)

// DefaultPhonePattern accepts Cameroonian mobile subscriber numbers with or
// without the country code.
const DefaultPhonePattern = `^(\+?237)?6[0-9]{8}$`

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// NormalizePhone drops the separators people type between digit groups.
func NormalizePhone(phone string) string {
	return phoneSeparators.Replace(strings.TrimSpace(phone))
}

type validator struct {
	phone *regexp.Regexp
}

func newValidator(pattern string) (*validator, error) {
	if pattern == "" {
		pattern = DefaultPhonePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid phone pattern: %w", err)
	}
	return &validator{phone: re}, nil
}

func (v *validator) customer(c domain.Customer, method domain.PaymentMethod) error {
	if !method.IsValid() {
		return validationError("payment_method", fmt.Sprintf("unsupported payment method %q", method))
	}
	if strings.TrimSpace(c.Name) == "" {
		return validationError("name", "name is required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		return validationError("phone", "phone is required")
	}
	if strings.TrimSpace(c.Address) == "" {
		return validationError("address", "address is required")
	}
	if c.Email != "" && !plausibleEmail(c.Email) {
		return validationError("email", "email address is not valid")
	}
	if method.IsAsync() {
		return v.mobileMoneyPhone(c.Phone)
	}
	return nil
}

func (v *validator) mobileMoneyPhone(phone string) error {
	if !v.phone.MatchString(NormalizePhone(phone)) {
		return validationError("phone", "phone number is not a valid mobile money number")
	}
	return nil
}

func plausibleEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}

// stock rejects a snapshot whose lines exceed the stock they were added against.
func stock(snapshot domain.CartSnapshot) error {
	for _, item := range snapshot.Items {
		if item.Quantity > item.StockAvailable {
			return &Error{
				Kind:    KindInsufficientStock,
				Message: fmt.Sprintf("only %d of %s available, %d requested", item.StockAvailable, item.Name, item.Quantity),
			}
		}
	}
	return nil
}
