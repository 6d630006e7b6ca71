package mpesa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 151.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

const cancelledCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestParseCallbackSuccess(t *testing.T) {
	result, err := ParseCallback([]byte(successCallback))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "ws_CO_191220191020363925", result.CheckoutRequestID)
	assert.Equal(t, "0", result.ResultCode)
	assert.Equal(t, int64(15100), result.AmountCents)
	assert.Equal(t, "NLJ7RT61SV", result.ReceiptCode)
}

func TestParseCallbackFailure(t *testing.T) {
	result, err := ParseCallback([]byte(cancelledCallback))
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "1032", result.ResultCode)
	assert.Equal(t, "Request cancelled by user", result.ResultDesc)
	assert.Zero(t, result.AmountCents)
}

func TestParseCallbackRejectsGarbage(t *testing.T) {
	for _, body := range []string{``, `{}`, `{"Body":{}}`, `{"Body":{"stkCallback":{"ResultCode":0}}}`, `not json`} {
		_, err := ParseCallback([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidCallback, body)
	}
}
