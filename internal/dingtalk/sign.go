package dingtalk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CallbackSignatureWindow bounds the age of a signed HTTP callback.
const CallbackSignatureWindow = time.Hour

var (
	// ErrSignatureMissing is returned when the timestamp or sign header is absent.
	ErrSignatureMissing = errors.New("callback signature missing")
	// ErrSignatureExpired is returned when the timestamp is outside CallbackSignatureWindow.
	ErrSignatureExpired = errors.New("callback signature expired")
	// ErrSignatureInvalid is returned when the sign header does not match the secret.
	ErrSignatureInvalid = errors.New("callback signature invalid")
)

// SignCallback computes the sign header of an HTTP callback: base64 of
// HMAC-SHA256(timestamp + "\n" + secret) keyed with secret.
func SignCallback(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks the timestamp and sign headers of an HTTP callback at now.
func VerifyCallback(timestamp, sign, secret string, now time.Time) error {
	timestamp = strings.TrimSpace(timestamp)
	sign = strings.TrimSpace(sign)
	if timestamp == "" || sign == "" {
		return ErrSignatureMissing
	}
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignatureInvalid)
	}
	age := now.Sub(time.UnixMilli(ms))
	if age < 0 {
		age = -age
	}
	if age > CallbackSignatureWindow {
		return ErrSignatureExpired
	}
	if !hmac.Equal([]byte(SignCallback(timestamp, secret)), []byte(sign)) {
		return ErrSignatureInvalid
	}
	return nil
}
