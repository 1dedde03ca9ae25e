package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
)

// SourceIdentity marks a conversion that fell back to the original amount
const SourceIdentity = "identity"

// ConvertOrIdentity converts amount and never fails: when the converter
// errors, the original amount and a rate of 1 are returned.
func ConvertOrIdentity(ctx context.Context, conv port.CurrencyConverter, logger Logger, amount decimal.Decimal, from, to string) port.Conversion {
	identity := port.Conversion{Amount: amount, Rate: decimal.NewFromInt(1), Source: SourceIdentity}
	if conv == nil || strings.EqualFold(from, to) {
		return identity
	}

	c, err := conv.Convert(ctx, amount, from, to)
	if err != nil {
		logger.Warn("Currency conversion failed, using original amount",
			"from", from,
			"to", to,
			"amount", amount.String(),
			"error", err,
		)
		return identity
	}
	return c
}
