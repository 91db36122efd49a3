package mpesa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// SignatureHeader is the request header carrying the provider's callback
// signature in hardened deployments.
const SignatureHeader = "X-Mpesa-Signature"

// CallbackResult is the normalized outcome of a provider callback. Optional
// metadata fields the provider omitted (common on failed transactions) are
// left at their zero value rather than causing a parse failure.
type CallbackResult struct {
	Succeeded         bool
	Amount            int64
	Receipt           string
	Phone             string
	Reference         string
	ProviderRequestID string
	ResultCode        int
	FailureReason     string
}

// ValidateCallback verifies the callback signature against the raw body in
// hardened mode. Relaxed mode skips verification; that asymmetry is an
// explicit deployment-mode switch configured at startup, never silent.
func (c *Client) ValidateCallback(rawBody []byte, signature string) error {
	if !c.cfg.Hardened {
		return nil
	}

	mac := hmac.New(sha256.New, c.cfg.ValidationKey)
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrCallbackForgery
	}
	return nil
}

type metadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type resultParameter struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

// ParseCallback decodes a collection (STK push) callback body into a
// normalized result. Parse failures are reported as errors, distinct from a
// well-formed callback describing a failed payment.
func ParseCallback(body []byte) (CallbackResult, error) {
	var envelope struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []metadataItem `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("decode collection callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return CallbackResult{}, fmt.Errorf("collection callback missing checkout id")
	}

	result := CallbackResult{
		ProviderRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
	}
	if cb.ResultCode != 0 {
		result.FailureReason = cb.ResultDesc
		return result, nil
	}

	result.Succeeded = true
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			result.Amount = numberValue(item.Value)
		case "MpesaReceiptNumber":
			result.Receipt = stringValue(item.Value)
		case "PhoneNumber":
			result.Phone = stringValue(item.Value)
		case "AccountReference":
			result.Reference = stringValue(item.Value)
		}
	}
	return result, nil
}

// ParseResultCallback decodes a disbursement (B2C) result callback body.
func ParseResultCallback(body []byte) (CallbackResult, error) {
	var envelope struct {
		Result struct {
			ResultCode       int    `json:"ResultCode"`
			ResultDesc       string `json:"ResultDesc"`
			ConversationID   string `json:"ConversationID"`
			TransactionID    string `json:"TransactionID"`
			ResultParameters struct {
				ResultParameter []resultParameter `json:"ResultParameter"`
			} `json:"ResultParameters"`
		} `json:"Result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return CallbackResult{}, fmt.Errorf("decode disbursement callback: %w", err)
	}

	res := envelope.Result
	if res.ConversationID == "" {
		return CallbackResult{}, fmt.Errorf("disbursement callback missing conversation id")
	}

	result := CallbackResult{
		ProviderRequestID: res.ConversationID,
		Receipt:           res.TransactionID,
		ResultCode:        res.ResultCode,
	}
	if res.ResultCode != 0 {
		result.FailureReason = res.ResultDesc
		return result, nil
	}

	result.Succeeded = true
	for _, param := range res.ResultParameters.ResultParameter {
		switch param.Key {
		case "TransactionAmount":
			result.Amount = numberValue(param.Value)
		case "TransactionReceipt":
			result.Receipt = stringValue(param.Value)
		case "ReceiverPartyPublicName":
			result.Phone = stringValue(param.Value)
		}
	}
	return result, nil
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return ""
	}
}

func numberValue(v any) int64 {
	switch value := v.(type) {
	case float64:
		return int64(value)
	case string:
		n, _ := strconv.ParseInt(value, 10, 64)
		return n
	default:
		return 0
	}
}
