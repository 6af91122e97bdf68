package domain

// Amounts are minor currency units.

// PercentOf rounds half up.
func PercentOf(amount, percent int64) int64 {
	return (amount*percent + 50) / 100
}

type SessionPrice struct {
	Subtotal         int64
	ServiceFee       int64
	Total            int64
	PlatformFee      int64
	ProviderEarnings int64
}

// PriceSession layers the customer service fee on top of the subtotal and
// takes the platform commission out of it.
func PriceSession(subtotal, serviceFeePercent, commissionPercent int64) SessionPrice {
	fee := PercentOf(subtotal, serviceFeePercent)
	commission := PercentOf(subtotal, commissionPercent)
	return SessionPrice{
		Subtotal:         subtotal,
		ServiceFee:       fee,
		Total:            subtotal + fee,
		PlatformFee:      commission,
		ProviderEarnings: subtotal - commission,
	}
}

type EditingPrice struct {
	Base       int64
	ServiceFee int64
	Total      int64
}

// PriceEditing returns false for an unknown model, a non-positive rate or a
// per-photo request without photos.
func PriceEditing(model PricingModel, rate int64, photoCount int, serviceFeePercent int64) (EditingPrice, bool) {
	if rate <= 0 {
		return EditingPrice{}, false
	}
	var base int64
	switch model {
	case PricingFlat:
		base = rate
	case PricingPerPhoto:
		if photoCount <= 0 {
			return EditingPrice{}, false
		}
		base = rate * int64(photoCount)
	default:
		return EditingPrice{}, false
	}
	fee := PercentOf(base, serviceFeePercent)
	return EditingPrice{Base: base, ServiceFee: fee, Total: base + fee}, true
}
