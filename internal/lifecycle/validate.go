package lifecycle

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/sslshop/internal/faults"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", faults.ErrValidation, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return strings.Join(fields, ", ")
	}
	return err.Error()
}

// NormalizeDomain lowercases a domain and checks that it is a fully
// qualified name, optionally with a leading "*." when wildcards are allowed.
func NormalizeDomain(domain string, allowWildcard bool) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	base := d
	if strings.HasPrefix(d, "*.") {
		if !allowWildcard {
			return "", fmt.Errorf("%w: product does not cover wildcard domains", faults.ErrValidation)
		}
		base = strings.TrimPrefix(d, "*.")
	}
	if err := validate.Var(base, "required,fqdn"); err != nil {
		return "", fmt.Errorf("%w: %q is not a valid domain name", faults.ErrValidation, domain)
	}
	return d, nil
}

// ValidateCSR checks that csrPEM is a well-formed, self-signed certificate
// signing request naming domain as its common name or a DNS SAN.
func ValidateCSR(csrPEM, domain string) error {
	block, _ := pem.Decode([]byte(strings.TrimSpace(csrPEM)))
	if block == nil || (block.Type != "CERTIFICATE REQUEST" && block.Type != "NEW CERTIFICATE REQUEST") {
		return fmt.Errorf("%w: signing request is not a PEM certificate request", faults.ErrValidation)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return fmt.Errorf("%w: parse signing request: %v", faults.ErrValidation, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return fmt.Errorf("%w: signing request signature is invalid", faults.ErrValidation)
	}
	names := append([]string{csr.Subject.CommonName}, csr.DNSNames...)
	if !slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(strings.TrimSuffix(n, "."), domain) }) {
		return fmt.Errorf("%w: signing request does not name %s", faults.ErrValidation, domain)
	}
	return nil
}
