package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"

	"github.com/solipub/solipub/domain"
)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://pod.example/profile/actor#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// SignerKeyId extracts the key id claimed by the request signature, so the
// caller can resolve the signer's key before verifying. Fails with
// ErrSignatureInvalid when no signature is present.
func SignerKeyId(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}
	return verifier.KeyId(), nil
}

// VerifyRequest verifies the HTTP signature on an incoming request against
// the given public key. Returns the signer's actor URI (the key id without
// its fragment) if valid.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignerUnresolved, err)
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSignatureInvalid, err)
	}

	return SignerURI(verifier.KeyId()), nil
}

// SignerURI strips the key fragment from a key id.
// "https://pod.example/profile/actor#main-key" -> "https://pod.example/profile/actor"
func SignerURI(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// CheckActorBinding compares the verified signer against the actor claimed
// by the activity, preventing a valid signer from forging activities on
// behalf of another actor.
func CheckActorBinding(signer, activityActor string) error {
	if signer != activityActor {
		return fmt.Errorf("%w: signer %s, actor %s", domain.ErrActorSignerMismatch, signer, activityActor)
	}
	return nil
}

// FoldHeaders joins multi-valued headers into single comma-separated
// values. Servers that fold headers must be tolerated, so verification
// always runs against the folded form.
func FoldHeaders(h http.Header) map[string]string {
	folded := make(map[string]string, len(h))
	for name, values := range h {
		folded[name] = strings.Join(values, ", ")
	}
	return folded
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey. Accepts both
// PKCS#8 ("PRIVATE KEY") and PKCS#1 ("RSA PRIVATE KEY") encodings; pods
// store keys in PKCS#8.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA private key")
		}
		return rsaKey, nil
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
