package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 地址校验错误
var (
	ErrInvalidAddress   = errors.New("invalid email address")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

const (
	MaxAddressLength   = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

var (
	localPartRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*[a-z0-9]$`)
	domainRegex    = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
)

// NormalizeAddress 统一地址格式（去空白、小写）。
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitAddress 拆分地址为本地部分和域名。
func SplitAddress(address string) (localPart, domain string, err error) {
	address = NormalizeAddress(address)
	if len(address) > MaxAddressLength {
		return "", "", ErrInvalidAddress
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return "", "", ErrInvalidAddress
	}
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidAddress
	}
	return address[:at], address[at+1:], nil
}

// ValidateAddress 完整校验临时邮箱地址。
func ValidateAddress(address string) error {
	localPart, domain, err := SplitAddress(address)
	if err != nil {
		return err
	}
	if err := ValidateLocalPart(localPart); err != nil {
		return err
	}
	return ValidateDomain(domain)
}

// ValidateLocalPart 校验本地部分：3-64 个字符，不允许连续特殊字符。
func ValidateLocalPart(localPart string) error {
	if len(localPart) < 3 || len(localPart) > MaxLocalPartLength {
		return ErrInvalidLocalPart
	}
	if !localPartRegex.MatchString(localPart) {
		return ErrInvalidLocalPart
	}
	for _, seq := range []string{"..", ".-", "-.", "--", "__", "_.", "._"} {
		if strings.Contains(localPart, seq) {
			return ErrInvalidLocalPart
		}
	}
	return nil
}

// ValidateDomain 校验域名格式。
func ValidateDomain(domain string) error {
	domain = NormalizeAddress(domain)
	if domain == "" || len(domain) > MaxDomainLength {
		return ErrInvalidDomain
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}
