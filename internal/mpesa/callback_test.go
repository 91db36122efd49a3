package mpesa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/pesabridge/pesabridge/internal/logging"
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
          {"Name": "Amount", "Value": 100.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678},
          {"Name": "AccountReference", "Value": "DEPOSIT-1"}
        ]
      }
    }
  }
}`

const failedCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user."
    }
  }
}`

func TestParseCallbackSuccess(t *testing.T) {
	result, err := ParseCallback([]byte(successCallback))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !result.Succeeded {
		t.Fatal("expected success")
	}
	if result.Amount != 100 {
		t.Fatalf("expected amount 100, got %d", result.Amount)
	}
	if result.Receipt != "NLJ7RT61SV" {
		t.Fatalf("unexpected receipt %q", result.Receipt)
	}
	if result.Phone != "254712345678" {
		t.Fatalf("unexpected phone %q", result.Phone)
	}
	if result.Reference != "DEPOSIT-1" {
		t.Fatalf("unexpected reference %q", result.Reference)
	}
	if result.ProviderRequestID != "ws_CO_191220191020363925" {
		t.Fatalf("unexpected provider request id %q", result.ProviderRequestID)
	}
}

func TestParseCallbackFailure(t *testing.T) {
	result, err := ParseCallback([]byte(failedCallback))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if result.ResultCode != 1032 {
		t.Fatalf("unexpected result code %d", result.ResultCode)
	}
	if result.FailureReason == "" {
		t.Fatal("expected failure reason")
	}
	// The provider omits metadata on failed transactions; missing fields stay
	// at their zero value instead of failing the parse.
	if result.Amount != 0 || result.Receipt != "" {
		t.Fatal("expected zero-valued optional fields")
	}
}

func TestParseCallbackMalformed(t *testing.T) {
	if _, err := ParseCallback([]byte(`{"Body":{}}`)); err == nil {
		t.Fatal("expected error for callback without checkout id")
	}
	if _, err := ParseCallback([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestParseResultCallback(t *testing.T) {
	body := `{
  "Result": {
    "ResultType": 0,
    "ResultCode": 0,
    "ResultDesc": "The service request is processed successfully.",
    "ConversationID": "AG_20260829_0001",
    "TransactionID": "NLJ41HAY6Q",
    "ResultParameters": {
      "ResultParameter": [
        {"Key": "TransactionAmount", "Value": 500},
        {"Key": "TransactionReceipt", "Value": "NLJ41HAY6Q"},
        {"Key": "ReceiverPartyPublicName", "Value": "254712345678 - John Doe"}
      ]
    }
  }
}`
	result, err := ParseResultCallback([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !result.Succeeded || result.Amount != 500 || result.Receipt != "NLJ41HAY6Q" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.ProviderRequestID != "AG_20260829_0001" {
		t.Fatalf("unexpected conversation id %q", result.ProviderRequestID)
	}
}

func TestValidateCallbackHardened(t *testing.T) {
	key := []byte("validation-key")
	client := NewClient(Config{Hardened: true, ValidationKey: key}, logging.Discard())

	body := []byte(successCallback)
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if err := client.ValidateCallback(body, signature); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := client.ValidateCallback(body, "forged"); !errors.Is(err, ErrCallbackForgery) {
		t.Fatalf("expected ErrCallbackForgery, got %v", err)
	}
}

func TestValidateCallbackRelaxed(t *testing.T) {
	client := NewClient(Config{Hardened: false}, logging.Discard())
	if err := client.ValidateCallback([]byte(successCallback), ""); err != nil {
		t.Fatalf("relaxed mode must skip verification, got %v", err)
	}
}
