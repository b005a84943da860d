package smtp

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

type DKIMConfig struct {
	Domain     string
	Selector   string
	KeyPath    string
	PrivateKey string
}

func (c DKIMConfig) Enabled() bool {
	return c.Selector != "" || c.KeyPath != "" || c.PrivateKey != ""
}

var signedHeaders = []string{
	"from",
	"to",
	"subject",
	"date",
	"message-id",
	"mime-version",
	"content-type",
}

// dkimSigner adds a DKIM-Signature header to outgoing messages.
type dkimSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

func newDKIMSigner(cfg DKIMConfig) (*dkimSigner, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if cfg.Selector == "" {
		return nil, fmt.Errorf("%w: dkim selector is required", ErrInvalidConfig)
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("%w: dkim domain is required", ErrInvalidConfig)
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.KeyPath != "":
		data, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("%w: dkim key path or private key is required", ErrInvalidConfig)
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}

	return &dkimSigner{
		domain:   strings.ToLower(cfg.Domain),
		selector: cfg.Selector,
		key:      key,
	}, nil
}

func (s *dkimSigner) sign(message []byte) ([]byte, error) {
	if s == nil {
		return message, nil
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, errors.New("no private key found in PEM data")
}
