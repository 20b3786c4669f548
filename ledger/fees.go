package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Named settings holding fee amounts.
const (
	SettingUnitFees        = "Unit fees"
	SettingRegistrationFee = "registration_fee"
	SettingGraduationFee   = "graduation_fee"
)

// DefaultFees apply when a setting is absent.
var DefaultFees = map[string]decimal.Decimal{
	SettingUnitFees:        decimal.NewFromInt(1600),
	SettingRegistrationFee: decimal.NewFromInt(1000),
	SettingGraduationFee:   decimal.NewFromInt(2500),
}

// FeeSchedule resolves fee amounts from the named-value settings store.
type FeeSchedule struct {
	Settings SettingsStore
	Defaults map[string]decimal.Decimal
}

func NewFeeSchedule(settings SettingsStore) *FeeSchedule {
	return &FeeSchedule{Settings: settings, Defaults: DefaultFees}
}

// Amount returns the configured amount for name, falling back to the
// default. A present but unparsable or non-positive value is an error.
func (fs *FeeSchedule) Amount(ctx context.Context, name string) (decimal.Decimal, error) {
	if fs.Settings != nil {
		raw, found, err := fs.Settings.GetSetting(ctx, name)
		if err != nil {
			return decimal.Zero, fmt.Errorf("read setting %q: %w", name, err)
		}
		if found {
			return parseFee(name, raw)
		}
	}
	d, ok := fs.Defaults[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("setting %q has no value and no default: %w", name, ErrInvalidSetting)
	}
	return d, nil
}

// Set validates and stores a fee amount.
func (fs *FeeSchedule) Set(ctx context.Context, name, raw string) error {
	d, err := parseFee(name, raw)
	if err != nil {
		return err
	}
	return fs.Settings.PutSetting(ctx, name, d.StringFixed(2))
}

func parseFee(name, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("setting %q = %q: %w", name, raw, ErrInvalidSetting)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("setting %q = %q must be positive: %w", name, raw, ErrInvalidSetting)
	}
	return d, nil
}
