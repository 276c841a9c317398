package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	secretKey := "whsec_test"
	payload := `{"provider":"stripe","external_id":"pi_123","status":"succeeded"}`

	signature := svc.Sign(secretKey, payload)

	assert.Regexp(t, `^[0-9a-f]{64}$`, signature, "signature should be 64-char lowercase hex (SHA-256)")
	assert.True(t, svc.Verify(secretKey, payload, signature))
}

func TestHMACSignatureService_KnownVector(t *testing.T) {
	svc := NewHMACSignatureService()

	// RFC 4231 test case 2.
	sig := svc.Sign("Jefe", "what do ya want for nothing?")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestHMACSignatureService_VerifyFails(t *testing.T) {
	svc := NewHMACSignatureService()
	signature := svc.Sign("correct-key", "original payload")

	tests := []struct {
		name      string
		key       string
		payload   string
		signature string
	}{
		{"wrong key", "wrong-key", "original payload", signature},
		{"tampered payload", "correct-key", "tampered payload", signature},
		{"garbage signature", "correct-key", "original payload", "invalidsignature"},
		{"empty signature", "correct-key", "original payload", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, svc.Verify(tt.key, tt.payload, tt.signature))
		})
	}
}

func TestHMACSignatureService_DeterministicSign(t *testing.T) {
	svc := NewHMACSignatureService()

	assert.Equal(t, svc.Sign("key", "data"), svc.Sign("key", "data"), "same key+payload should produce same signature")
}
