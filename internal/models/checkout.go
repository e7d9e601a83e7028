package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CheckoutRequest is the body accepted by POST /api/subscription.
type CheckoutRequest struct {
	ProductID string `json:"productId"`
}

// UnmarshalJSON accepts any well-formed JSON document. Bodies that are not
// objects carry no product id. A string id is kept as sent and a non-zero
// number is kept as its literal text; null, false, zero, arrays and objects
// count as missing.
func (r *CheckoutRequest) UnmarshalJSON(data []byte) error {
	r.ProductID = ""

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if !json.Valid(data) {
			return err
		}
		return nil
	}

	raw, ok := fields["productId"]
	if !ok {
		return nil
	}
	raw = bytes.TrimSpace(raw)

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		r.ProductID = id
		return nil
	}

	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if f, err := n.Float64(); err == nil && f != 0 {
			r.ProductID = n.String()
		}
	}
	return nil
}

// Validate reports a ValidationError when the product id is absent.
func (r CheckoutRequest) Validate() error {
	if strings.TrimSpace(r.ProductID) == "" {
		return ValidationError{Field: "productId", Message: "Product ID is missing"}
	}
	return nil
}

// CheckoutResponse carries the hosted checkout redirect URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the JSON body written for failed requests.
type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// CustomerIdentity identifies the customer a checkout is created for.
type CustomerIdentity struct {
	Email  string `json:"email"`
	UserID string `json:"user_id"`

	// Authenticated is set only when the identity came from a signed
	// frontend header rather than the configured defaults.
	Authenticated bool `json:"-"`
}

// ValidationError describes a single invalid request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}
