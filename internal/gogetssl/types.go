package gogetssl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SubmitRequest is the payload for placing an order with the authority.
type SubmitRequest struct {
	ProductID      string   `json:"product_id"`
	CSR            string   `json:"csr"`
	ValidityPeriod int      `json:"validity_period"`
	ApproverEmail  string   `json:"approver_email"`
	WebserverType  string   `json:"webserver_type"`
	DNSNames       []string `json:"dns_names"`
}

type submitResponse struct {
	OrderID FlexString `json:"order_id"`
}

type reissueRequest struct {
	CSR           string `json:"csr"`
	ApproverEmail string `json:"approver_email,omitempty"`
}

// OrderDetails is the authority's view of one order.
type OrderDetails struct {
	OrderID          FlexString `json:"order_id"`
	Status           string     `json:"status"`
	ProductID        FlexString `json:"product_id"`
	Domain           string     `json:"domain"`
	Certificate      string     `json:"crt_code"`
	CABundle         string     `json:"ca_code"`
	ValidFrom        Date       `json:"valid_from"`
	ValidTill        Date       `json:"valid_till"`
	BaseDomainCount  FlexInt    `json:"base_domain_count"`
	SingleSANCount   FlexInt    `json:"single_san_count"`
	WildcardSANCount FlexInt    `json:"wildcard_san_count"`
}

// SANOnly reports whether the order is a SAN add-on with no base domain.
func (d OrderDetails) SANOnly() bool {
	return d.BaseDomainCount == 0 && d.SingleSANCount+d.WildcardSANCount > 0
}

// ExcludeSANOnly drops SAN add-on orders from a listing.
func ExcludeSANOnly(orders []OrderDetails) []OrderDetails {
	out := make([]OrderDetails, 0, len(orders))
	for _, o := range orders {
		if !o.SANOnly() {
			out = append(out, o)
		}
	}
	return out
}

// ListOptions filters an order listing.
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

type listResponse struct {
	Orders []OrderDetails `json:"orders"`
	Count  FlexInt        `json:"count"`
}

// errorEnvelope is returned with a 200 status on some failures.
type errorEnvelope struct {
	Error       bool   `json:"error"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// FlexString decodes a JSON string or number.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// FlexInt decodes a JSON number or a numeric string. Empty values are zero.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("decode count %q: %w", raw, err)
	}
	*n = FlexInt(v)
	return nil
}

// Date is a calendar date as reported by the authority, in UTC.
// The zero value means the authority has not reported one.
type Date struct {
	time.Time
}

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

func (d *Date) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if raw == "" || raw == "null" || strings.HasPrefix(raw, "0000-00-00") {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("decode date %q", raw)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// Ptr returns the date as a pointer, nil when unset.
func (d Date) Ptr() *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
