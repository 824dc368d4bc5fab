package wechatpay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"
	"github.com/shengdoushi/base58"
	"github.com/shopspring/decimal"
)

// RandomTradeNo returns a fresh 32 character merchant order number
func RandomTradeNo() string {
	return hex.EncodeToString(uuid.NewV4().Bytes())
}

// DeterministicRef derives a stable order reference from parts, so retried
// submissions of the same logical order reuse the same out_trade_no and the
// gateway's idempotency applies
func DeterministicRef(parts ...string) string {
	key := strings.Join(parts, "_")
	bytes := sha256.Sum256([]byte(key))
	return base58.Encode(bytes[:], base58.IPFSAlphabet)
}

// FenFromYuan converts a yuan denominated amount to the integer fen the
// gateway expects, rejecting amounts carrying sub-fen precision
func FenFromYuan(yuan decimal.Decimal) (int64, error) {
	fen := yuan.Mul(decimal.New(1, 2))
	if !fen.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-fen precision", yuan)
	}
	return fen.IntPart(), nil
}

// YuanFromFen renders an integer fen amount as yuan
func YuanFromFen(fen int64) decimal.Decimal {
	return decimal.New(fen, -2)
}
