package catalog

import (
	"errors"
	"strings"
	"time"
)

var ErrUnknownPackage = errors.New("unknown_package")

// Package describes one billable product: its charge price, validity window
// and the gateway sub-service that bills it.
type Package struct {
	Name         string
	Price        int64
	DurationDays int
	SubService   string
}

var packages = map[string]Package{
	"DAILY":   {Name: "DAILY", Price: 169, DurationDays: 1, SubService: "SUPER_MATINO_DAILY"},
	"WEEKLY":  {Name: "WEEKLY", Price: 599, DurationDays: 7, SubService: "SUPER_MATINO_WEEKLY"},
	"MONTHLY": {Name: "MONTHLY", Price: 1799, DurationDays: 30, SubService: "SUPER_MATINO_MONTHLY"},
	"BUY1":    {Name: "BUY1", Price: 150, DurationDays: 1, SubService: "SUPER_MATINO_BUY1"},
	"BUY2":    {Name: "BUY2", Price: 300, DurationDays: 1, SubService: "SUPER_MATINO_BUY2"},
	"BUY3":    {Name: "BUY3", Price: 750, DurationDays: 1, SubService: "SUPER_MATINO_BUY3"},
	"BUY4":    {Name: "BUY4", Price: 1500, DurationDays: 1, SubService: "SUPER_MATINO_BUY4"},
	"BUY5":    {Name: "BUY5", Price: 2250, DurationDays: 1, SubService: "SUPER_MATINO_BUY5"},
	"BUY6":    {Name: "BUY6", Price: 3750, DurationDays: 1, SubService: "SUPER_MATINO_BUY6"},
}

// Lookup returns the package for an internal package code.
func Lookup(name string) (Package, error) {
	pkg, ok := packages[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return Package{}, ErrUnknownPackage
	}
	return pkg, nil
}

// PackageNameFromServiceID maps the partner's service id onto the internal
// package code. Service ids embed the tier name; one-time buys and OTP
// content pass through as-is.
func PackageNameFromServiceID(serviceID string) string {
	upper := strings.ToUpper(serviceID)
	switch {
	case strings.Contains(upper, "DAILY"):
		return "DAILY"
	case strings.Contains(upper, "WEEKLY"):
		return "WEEKLY"
	case strings.Contains(upper, "MONTHLY"):
		return "MONTHLY"
	case strings.Contains(upper, "BUY"):
		return serviceID
	case strings.Contains(upper, "OTP"):
		return "OTP"
	}
	return serviceID
}

// NextChargeDate computes when the package renews.
func NextChargeDate(packageName string, from time.Time) time.Time {
	switch strings.ToUpper(packageName) {
	case "DAILY":
		return from.AddDate(0, 0, 1)
	case "WEEKLY":
		return from.AddDate(0, 0, 7)
	case "MONTHLY":
		return from.AddDate(0, 0, 30)
	default:
		return from.AddDate(0, 0, 1)
	}
}

// ChannelFromCommand maps the partner's callback command onto the channel
// the subscriber used: YES/OFF arrive via SMS, 1/0 via USSD, MONFEE is the
// partner's own renewal engine.
func ChannelFromCommand(command string) string {
	switch strings.ToUpper(strings.TrimSpace(command)) {
	case "YES", "OFF":
		return "SMS"
	case "1", "0":
		return "USSD"
	case "MONFEE":
		return "CP"
	default:
		return "UNKNOWN"
	}
}

// ParseChargeTime parses the partner's charge timestamp, which arrives as
// YYYYMMDDHHMMSS or YYYYMMDDHHMM. Unparseable values fall back to now.
func ParseChargeTime(chargetime string, now time.Time) time.Time {
	chargetime = strings.TrimSpace(chargetime)
	switch len(chargetime) {
	case 14:
	case 12:
		chargetime += "00"
	default:
		return now
	}
	parsed, err := time.Parse("20060102150405", chargetime)
	if err != nil {
		return now
	}
	return parsed
}
