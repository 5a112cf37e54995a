package gateway

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"

	"mall/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

func genKeyPair(t *testing.T) (*rsa.PrivateKey, []byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	assert.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return key, privPEM, pubPEM
}

func TestSignerVerifier_RoundTrip(t *testing.T) {
	_, privPEM, pubPEM := genKeyPair(t)

	signer, err := NewSigner("mch-1", "serial-1", privPEM)
	assert.NoError(t, err)
	verifier, err := NewVerifier(pubPEM)
	assert.NoError(t, err)

	body := []byte(`{"hello":"world"}`)
	sig, err := signer.Sign("1700000000\nnonce-1\n" + string(body) + "\n")
	assert.NoError(t, err)

	assert.NoError(t, verifier.Verify("1700000000", "nonce-1", body, sig))

	// 本文が1バイトでも違えば弾く
	err = verifier.Verify("1700000000", "nonce-1", []byte(`{"hello":"world!"}`), sig)
	assert.Error(t, err)
}

func TestAuthorizationHeader_Shape(t *testing.T) {
	_, privPEM, _ := genKeyPair(t)
	signer, err := NewSigner("mch-1", "serial-1", privPEM)
	assert.NoError(t, err)

	h, err := signer.AuthorizationHeader("POST", "/v3/pay/transactions/jsapi", "1700000000", "nonce-1", "{}")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "WECHATPAY2-SHA256-RSA2048 "))
	assert.Contains(t, h, `mchid="mch-1"`)
	assert.Contains(t, h, `serial_no="serial-1"`)
	assert.Contains(t, h, `nonce_str="nonce-1"`)
}

func TestAEAD_RoundTrip(t *testing.T) {
	aead, err := NewAEAD(testAPIKey)
	assert.NoError(t, err)

	plain := []byte(`{"out_trade_no":"SO1"}`)
	sealed, err := aead.Encrypt("nonce-12-byt", "transaction", plain)
	assert.NoError(t, err)

	got, err := aead.Decrypt("nonce-12-byt", "transaction", sealed)
	assert.NoError(t, err)
	assert.Equal(t, plain, got)

	// associated_dataが違えば開かない
	_, err = aead.Decrypt("nonce-12-byt", "other", sealed)
	assert.Error(t, err)
}

func TestNewAEAD_RejectsShortKey(t *testing.T) {
	_, err := NewAEAD("short")
	assert.Error(t, err)
}

// Webhookの封筒を実際に作ってデコーダに通す
func buildEnvelope(t *testing.T, key *rsa.PrivateKey, resource interface{}) (usecase.NotifyHeaders, []byte) {
	t.Helper()

	aead, err := NewAEAD(testAPIKey)
	assert.NoError(t, err)

	plain, err := json.Marshal(resource)
	assert.NoError(t, err)

	nonce := "nonce-12-byt"
	ciphertext, err := aead.Encrypt(nonce, "transaction", plain)
	assert.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"id":         "evt-1",
		"event_type": "TRANSACTION.SUCCESS",
		"resource": map[string]string{
			"algorithm":       "AEAD_AES_256_GCM",
			"ciphertext":      ciphertext,
			"nonce":           nonce,
			"associated_data": "transaction",
		},
	})
	assert.NoError(t, err)

	ts := "1700000000"
	headerNonce := "header-nonce"
	digest := sha256.Sum256([]byte(ts + "\n" + headerNonce + "\n" + string(body) + "\n"))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	assert.NoError(t, err)

	return usecase.NotifyHeaders{
		Timestamp: ts,
		Nonce:     headerNonce,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Serial:    "serial-1",
	}, body
}

func TestDecoder_DecodePaymentNotify(t *testing.T) {
	key, _, pubPEM := genKeyPair(t)
	verifier, err := NewVerifier(pubPEM)
	assert.NoError(t, err)
	aead, err := NewAEAD(testAPIKey)
	assert.NoError(t, err)
	decoder := NewDecoder(verifier, aead)

	headers, body := buildEnvelope(t, key, map[string]interface{}{
		"mchid":          "mch-1",
		"appid":          "app-1",
		"out_trade_no":   "SO123",
		"transaction_id": "tx-9",
		"trade_state":    "SUCCESS",
		"attach":         "attach-uuid",
		"amount":         map[string]int64{"total": 8850},
	})

	n, err := decoder.DecodePaymentNotify(headers, body)
	assert.NoError(t, err)
	assert.Equal(t, "mch-1", n.MchID)
	assert.Equal(t, "SO123", n.OrderNo)
	assert.Equal(t, "tx-9", n.TransactionID)
	assert.Equal(t, "attach-uuid", n.AttachID)
	// 金額はセントから2桁の十進へ
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("88.50")), n.Amount.String())
}

func TestDecoder_RejectsTamperedBody(t *testing.T) {
	key, _, pubPEM := genKeyPair(t)
	verifier, err := NewVerifier(pubPEM)
	assert.NoError(t, err)
	aead, err := NewAEAD(testAPIKey)
	assert.NoError(t, err)
	decoder := NewDecoder(verifier, aead)

	headers, body := buildEnvelope(t, key, map[string]interface{}{"mchid": "mch-1"})
	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] ^= 0x01

	_, err = decoder.DecodePaymentNotify(headers, tampered)
	assert.Error(t, err)
}

func TestDecoder_DecodeRefundNotify(t *testing.T) {
	key, _, pubPEM := genKeyPair(t)
	verifier, err := NewVerifier(pubPEM)
	assert.NoError(t, err)
	aead, err := NewAEAD(testAPIKey)
	assert.NoError(t, err)
	decoder := NewDecoder(verifier, aead)

	headers, body := buildEnvelope(t, key, map[string]interface{}{
		"mchid":         "mch-1",
		"out_refund_no": "RF1",
		"refund_id":     "gw-rf-9",
		"out_trade_no":  "SO123",
		"refund_status": "SUCCESS",
		"amount":        map[string]int64{"refund": 4000},
	})

	n, err := decoder.DecodeRefundNotify(headers, body)
	assert.NoError(t, err)
	assert.Equal(t, "RF1", n.RefundNo)
	assert.Equal(t, "gw-rf-9", n.GatewayRefundID)
	assert.True(t, n.Amount.Equal(decimal.RequireFromString("40.00")))
}
