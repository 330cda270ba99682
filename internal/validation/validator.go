package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// guard against quantity overflow when the total is computed from
	// quantity x unit price; the tag rules handle everything else.
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

const maxLineQuantity = 1_000_000

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	for _, it := range req.Items {
		if it.Quantity > maxLineQuantity {
			sl.ReportError(it.Quantity, "quantity", "Quantity", "quantity_too_large", "")
		}
	}
}
