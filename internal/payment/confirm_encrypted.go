package payment

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"bbpayments-be/internal/logger"

	"go.uber.org/zap"
)

// EncryptedConfirmer confirms with RSA encrypted fields. Every outbound
// key=value pair is encrypted on its own with the merchant public key and
// the base64 blocks are joined with "#". The answer is "&" delimited with
// every value encrypted by the party's private key.
type EncryptedConfirmer struct {
	confirmURL string
	client     *http.Client
	key        *rsa.PublicKey
}

func NewEncryptedConfirmer(confirmURL, publicKey string, client *http.Client) (*EncryptedConfirmer, error) {
	raw, err := loadPEM(publicKey)
	if err != nil {
		return nil, fmt.Errorf("load public key: %w", err)
	}
	key, err := parsePublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &EncryptedConfirmer{confirmURL: confirmURL, client: client, key: key}, nil
}

func (c *EncryptedConfirmer) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	log := logger.FromCtx(ctx)

	payload, err := c.encryptArgs(req.args())
	if err != nil {
		return nil, err
	}

	form := url.Values{"data": {payload}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.confirmURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConfirmationTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		log.Error("encrypted confirmation request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrConfirmationTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfirmBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrConfirmationTransport, err)
	}
	log.Info("encrypted confirmation response",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrConfirmationTransport, resp.StatusCode)
	}

	fields := ParseResponseBody(string(body))
	for k, v := range fields {
		plain, err := c.decryptValue(v)
		if err != nil {
			log.Warn("undecryptable confirmation field", zap.String("field", k), zap.Error(err))
			return nil, fmt.Errorf("%w: field %s: %v", ErrConfirmationRejected, k, err)
		}
		fields[k] = plain
	}
	return newConfirmation(fields), nil
}

func (c *EncryptedConfirmer) encryptArgs(args RequestArgs) (string, error) {
	blocks := make([]string, 0, len(args))
	for _, kv := range args {
		ct, err := rsa.EncryptPKCS1v15(rand.Reader, c.key, []byte(kv.Key+"="+kv.Value))
		if err != nil {
			return "", fmt.Errorf("encrypt %s: %w", kv.Key, err)
		}
		blocks = append(blocks, base64.StdEncoding.EncodeToString(ct))
	}
	return strings.Join(blocks, "#"), nil
}

func (c *EncryptedConfirmer) decryptValue(v string) (string, error) {
	if unescaped, err := url.PathUnescape(v); err == nil {
		v = unescaped
	}
	ct, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return "", fmt.Errorf("base64: %w", err)
	}
	plain, err := publicDecrypt(c.key, ct)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

var errPadding = errors.New("invalid PKCS#1 padding")

// publicDecrypt recovers a value the party encrypted with its private key
// (PKCS#1 v1.5 block type 1).
func publicDecrypt(pub *rsa.PublicKey, ct []byte) ([]byte, error) {
	k := pub.Size()
	if len(ct) != k {
		return nil, fmt.Errorf("ciphertext is %d bytes, want %d", len(ct), k)
	}
	c := new(big.Int).SetBytes(ct)
	if c.Cmp(pub.N) >= 0 {
		return nil, errPadding
	}
	m := new(big.Int).Exp(c, big.NewInt(int64(pub.E)), pub.N)

	em := make([]byte, k)
	m.FillBytes(em)
	if em[0] != 0x00 || em[1] != 0x01 {
		return nil, errPadding
	}
	sep := bytes.IndexByte(em[2:], 0x00)
	if sep < 8 {
		return nil, errPadding
	}
	for _, b := range em[2 : 2+sep] {
		if b != 0xff {
			return nil, errPadding
		}
	}
	return em[2+sep+1:], nil
}

// loadPEM accepts inline PEM or a path to a PEM file.
func loadPEM(value string) ([]byte, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("empty pem")
	}
	if strings.Contains(v, "BEGIN") {
		return []byte(v), nil
	}
	return os.ReadFile(v)
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("invalid public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if k, ok := key.(*rsa.PublicKey); ok {
			return k, nil
		}
		return nil, fmt.Errorf("public key type invalid")
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		if k, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return k, nil
		}
		return nil, fmt.Errorf("certificate key type invalid")
	}
	return nil, fmt.Errorf("unsupported pem block %q", block.Type)
}
