package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sslshop/internal/gogetssl"
)

func testOrders() []gogetssl.OrderDetails {
	return []gogetssl.OrderDetails{
		{
			OrderID: "1001", Status: "active", Domain: "shop.example.com",
			ValidTill:       gogetssl.Date{Time: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
			BaseDomainCount: 1, SingleSANCount: 2,
		},
		{OrderID: "1002", Status: "processing", Domain: "new.example.com", BaseDomainCount: 1},
	}
}

func TestPrintOrders_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printOrders(&buf, testOrders(), false))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ORDER")
	assert.Contains(t, lines[1], "1001")
	assert.Contains(t, lines[1], "2026-03-01")
	assert.Contains(t, lines[2], "new.example.com")
	assert.Contains(t, lines[2], " - ")
}

func TestPrintOrders_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printOrders(&buf, testOrders(), true))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "1001", decoded[0]["order_id"])
	assert.Equal(t, "2026-03-01", decoded[0]["valid_till"])
}
