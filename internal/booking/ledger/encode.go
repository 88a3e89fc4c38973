package ledger

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"housingBack/internal/booking/apperr"
	"housingBack/internal/booking/money"
)

// Merchant identifies the payee encoded into every descriptor.
type Merchant struct {
	AccountID     string
	Name          string
	City          string
	CountryCode   string
	CategoryCode  string
	StoreLabel    string
	TerminalLabel string
}

// DefaultMerchant carries the labels used when none are configured.
func DefaultMerchant() Merchant {
	return Merchant{
		Name:          "HousingAnalyzer",
		City:          "Phnom Penh",
		CountryCode:   "KH",
		CategoryCode:  "5999",
		StoreLabel:    "HousingAnalyzer",
		TerminalLabel: "OnlinePayment",
	}
}

// Params are the payment parameters serialized into a descriptor.
type Params struct {
	Merchant   Merchant
	Amount     money.Money
	Currency   string
	BillNumber string
}

var currencyCodes = map[string]string{
	"USD": "840",
	"KHR": "116",
}

// BillNumber derives the bill reference for a booking: "BK" followed by the
// first eight digits of the zero padded booking id.
func BillNumber(bookingID int64) string {
	id := fmt.Sprintf("%08d", bookingID)
	return "BK" + id[:8]
}

// Encode serializes p into a canonical EMV-style tag-length-value string
// terminated by a CRC16 checksum. Equal params always yield equal output.
func Encode(p Params) (string, error) {
	if p.Amount <= 0 {
		return "", apperr.Validation("amount", "must be positive")
	}
	cur := strings.ToUpper(strings.TrimSpace(p.Currency))
	code, ok := currencyCodes[cur]
	if !ok {
		return "", apperr.Validation("currency", "unsupported currency %q", p.Currency)
	}
	if p.Merchant.AccountID == "" {
		return "", apperr.Validation("merchant", "account id is required")
	}
	if p.BillNumber == "" {
		return "", apperr.Validation("bill_number", "is required")
	}

	var b strings.Builder
	writeTLV(&b, "00", "01")
	writeTLV(&b, "01", "12")
	writeTLV(&b, "29", tlv("00", p.Merchant.AccountID))
	writeTLV(&b, "52", orDefault(p.Merchant.CategoryCode, "5999"))
	writeTLV(&b, "53", code)
	writeTLV(&b, "54", p.Amount.String())
	writeTLV(&b, "58", orDefault(p.Merchant.CountryCode, "KH"))
	writeTLV(&b, "59", truncate(p.Merchant.Name, 25))
	writeTLV(&b, "60", truncate(p.Merchant.City, 15))
	extra := tlv("01", p.BillNumber)
	if p.Merchant.StoreLabel != "" {
		extra += tlv("03", truncate(p.Merchant.StoreLabel, 25))
	}
	if p.Merchant.TerminalLabel != "" {
		extra += tlv("07", truncate(p.Merchant.TerminalLabel, 25))
	}
	writeTLV(&b, "62", extra)
	b.WriteString("6304")
	b.WriteString(fmt.Sprintf("%04X", crc16(b.String())))
	return b.String(), nil
}

// Hash returns the correlation hash (lowercase hex MD5) of a payload.
func Hash(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func tlv(tag, value string) string {
	return fmt.Sprintf("%s%02d%s", tag, len(value), value)
}

func writeTLV(b *strings.Builder, tag, value string) {
	b.WriteString(tlv(tag, value))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// crc16 is CRC-16/CCITT-FALSE as required by EMV merchant QR payloads.
func crc16(s string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(s); i++ {
		crc ^= uint16(s[i]) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
