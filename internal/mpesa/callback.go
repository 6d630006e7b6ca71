package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/domain"
	"github.com/Luna-Hacks-Group6/Retail-store-pos-system-sub000/internal/store"
)

// ErrInvalidCallback is returned for payloads that are not an STK callback.
var ErrInvalidCallback = fmt.Errorf("%w: invalid mpesa callback", store.ErrInvalidTransaction)

type callbackEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string          `json:"MerchantRequestID"`
	CheckoutRequestID string          `json:"CheckoutRequestID"`
	ResultCode        json.Number     `json:"ResultCode"`
	ResultDesc        string          `json:"ResultDesc"`
	CallbackMetadata  *callbackFields `json:"CallbackMetadata"`
}

type callbackFields struct {
	Item []struct {
		Name  string          `json:"Name"`
		Value json.RawMessage `json:"Value"`
	} `json:"Item"`
}

// CallbackAck is the body Daraja expects in reply to every callback.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var AcceptedAck = CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}

// ParseCallback decodes a Daraja Body.stkCallback envelope.
func ParseCallback(body []byte) (domain.MpesaResult, error) {
	var envelope callbackEnvelope
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&envelope); err != nil {
		return domain.MpesaResult{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	cb := envelope.Body.STKCallback
	if cb == nil || strings.TrimSpace(cb.CheckoutRequestID) == "" || cb.ResultCode == "" {
		return domain.MpesaResult{}, fmt.Errorf("%w: missing stkCallback fields", ErrInvalidCallback)
	}
	code, err := cb.ResultCode.Int64()
	if err != nil {
		return domain.MpesaResult{}, fmt.Errorf("%w: result code %q", ErrInvalidCallback, cb.ResultCode)
	}

	result := domain.MpesaResult{
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		Success:           code == 0,
		ResultCode:        strconv.FormatInt(code, 10),
		ResultDesc:        strings.TrimSpace(cb.ResultDesc),
	}
	if cb.CallbackMetadata == nil {
		return result, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		raw := metadataString(item.Value)
		switch item.Name {
		case "Amount":
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return domain.MpesaResult{}, fmt.Errorf("%w: amount %q", ErrInvalidCallback, raw)
			}
			result.AmountCents = UnitsToCents(amount)
		case "MpesaReceiptNumber":
			result.ReceiptCode = raw
		}
	}
	return result, nil
}

// metadataString flattens a metadata value that may arrive as a JSON number
// or string.
func metadataString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}
