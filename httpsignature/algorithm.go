package httpsignature

import (
	"errors"
)

// Algorithm is an enum-like representing an algorithm that can be used for http signatures
type Algorithm int

const (
	invalid Algorithm = iota
	// WECHATPAY2SHA256RSA2048 is RSASSA-PKCS1-v1_5 over SHA-256, the only
	// signature scheme the v3 gateway accepts
	WECHATPAY2SHA256RSA2048
)

var algorithmName = map[Algorithm]string{
	WECHATPAY2SHA256RSA2048: "WECHATPAY2-SHA256-RSA2048",
}

var algorithmID = map[string]Algorithm{
	"WECHATPAY2-SHA256-RSA2048": WECHATPAY2SHA256RSA2048,
}

func (a Algorithm) String() string {
	return algorithmName[a]
}

// MarshalText marshalls the algorithm into text.
func (a *Algorithm) MarshalText() (text []byte, err error) {
	if *a == invalid {
		return nil, errors.New("not a supported algorithm")
	}
	text = []byte(a.String())
	return
}

// UnmarshalText unmarshalls the algorithm from text.
func (a *Algorithm) UnmarshalText(text []byte) (err error) {
	var exists bool
	*a, exists = algorithmID[string(text)]
	if !exists {
		return errors.New("not a supported algorithm")
	}
	return nil
}
