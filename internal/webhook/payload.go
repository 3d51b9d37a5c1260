package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const Provider = "paymob"

// Callback is the transaction callback body. Every field of Obj is optional
// so that absent and zero values stay distinguishable.
type Callback struct {
	Type string       `json:"type"`
	Obj  *Transaction `json:"obj"`
}

type Transaction struct {
	ID                   *int64      `json:"id"`
	AmountCents          *int64      `json:"amount_cents"`
	CreatedAt            *string     `json:"created_at"`
	Currency             *string     `json:"currency"`
	ErrorOccured         *bool       `json:"error_occured"`
	HasParentTransaction *bool       `json:"has_parent_transaction"`
	IntegrationID        *int64      `json:"integration_id"`
	Is3DSecure           *bool       `json:"is_3d_secure"`
	IsAuth               *bool       `json:"is_auth"`
	IsCapture            *bool       `json:"is_capture"`
	IsRefunded           *bool       `json:"is_refunded"`
	IsStandalonePayment  *bool       `json:"is_standalone_payment"`
	IsVoided             *bool       `json:"is_voided"`
	Order                *OrderRef   `json:"order"`
	Owner                *int64      `json:"owner"`
	Pending              *bool       `json:"pending"`
	SourceData           *SourceData `json:"source_data"`
	Success              *bool       `json:"success"`
	MerchantOrderID      *FlexString `json:"merchant_order_id"`
	Data                 *ResultData `json:"data"`
}

type SourceData struct {
	Pan     *string `json:"pan"`
	SubType *string `json:"sub_type"`
	Type    *string `json:"type"`
}

type ResultData struct {
	Message         *string     `json:"message"`
	TxnResponseCode *FlexString `json:"txn_response_code"`
}

// OrderRef accepts both `"order": 123` and `"order": {"id": 123, ...}`.
type OrderRef struct {
	ID              *int64      `json:"id"`
	MerchantOrderID *FlexString `json:"merchant_order_id"`
}

func (o *OrderRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		type plain OrderRef
		var decoded plain
		if err := json.Unmarshal(trimmed, &decoded); err != nil {
			return fmt.Errorf("decode order object: %w", err)
		}
		*o = OrderRef(decoded)
		return nil
	}
	var id int64
	if err := json.Unmarshal(trimmed, &id); err != nil {
		return fmt.Errorf("decode order id: %w", err)
	}
	o.ID = &id
	return nil
}

// FlexString decodes a JSON string or number into its textual form.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (t *Transaction) EventID() string {
	if t == nil || t.ID == nil {
		return ""
	}
	return fmt.Sprintf("%s_%d", Provider, *t.ID)
}

// MerchantOrder returns the merchant order reference, preferring the nested
// order object over the top-level field.
func (t *Transaction) MerchantOrder() string {
	if t == nil {
		return ""
	}
	if t.Order != nil && t.Order.MerchantOrderID != nil {
		if v := strings.TrimSpace(string(*t.Order.MerchantOrderID)); v != "" {
			return v
		}
	}
	if t.MerchantOrderID != nil {
		return strings.TrimSpace(string(*t.MerchantOrderID))
	}
	return ""
}

func (t *Transaction) IsPending() bool {
	return t != nil && boolValue(t.Pending)
}

// Succeeded is the provider's final verdict: successful, not pending, not voided.
func (t *Transaction) Succeeded() bool {
	return t != nil && boolValue(t.Success) && !boolValue(t.Pending) && !boolValue(t.IsVoided)
}

func (t *Transaction) Amount() int64 {
	if t == nil || t.AmountCents == nil {
		return 0
	}
	return *t.AmountCents
}

func (t *Transaction) FailureReason() string {
	reason := "Transaction declined"
	if t != nil && t.Data != nil {
		switch {
		case t.Data.Message != nil && strings.TrimSpace(*t.Data.Message) != "":
			reason = strings.TrimSpace(*t.Data.Message)
		case t.Data.TxnResponseCode != nil && strings.TrimSpace(string(*t.Data.TxnResponseCode)) != "":
			reason = strings.TrimSpace(string(*t.Data.TxnResponseCode))
		}
	}
	return "Paymob: " + reason
}

// signatureBase concatenates the signed fields in the provider's order.
func (t *Transaction) signatureBase() string {
	var orderID *int64
	if t.Order != nil {
		orderID = t.Order.ID
	}
	var pan, subType, sourceType *string
	if t.SourceData != nil {
		pan, subType, sourceType = t.SourceData.Pan, t.SourceData.SubType, t.SourceData.Type
	}

	fields := []string{
		intField(t.AmountCents),
		stringField(t.CreatedAt),
		stringField(t.Currency),
		boolField(t.ErrorOccured),
		boolField(t.HasParentTransaction),
		intField(t.ID),
		intField(t.IntegrationID),
		boolField(t.Is3DSecure),
		boolField(t.IsAuth),
		boolField(t.IsCapture),
		boolField(t.IsRefunded),
		boolField(t.IsStandalonePayment),
		boolField(t.IsVoided),
		intField(orderID),
		intField(t.Owner),
		boolField(t.Pending),
		stringField(pan),
		stringField(subType),
		stringField(sourceType),
		boolField(t.Success),
	}
	return strings.Join(fields, "")
}

func boolValue(v *bool) bool {
	return v != nil && *v
}

func intField(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func stringField(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func boolField(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}
