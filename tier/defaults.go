package tier

// DefaultCatalog returns the production tier ladder.
func DefaultCatalog() *Catalog {
	return MustCatalog(
		Tier{
			ID:           Free,
			Name:         "Pilgrim",
			MonthlyQuota: GuestAllowance,
			Features:     []string{"5 generations / month", "Watermarked images"},
		},
		Tier{
			ID:           Basic,
			Name:         "Acolyte",
			MonthlyQuota: 50,
			PriceRef:     "price_1S9bsoF1aEX7i16QuJ86DpFA",
			PriceCents:   200,
			Features:     []string{"50 generations / month", "No visible watermark", "Priority support"},
		},
		Tier{
			ID:           Plus,
			Name:         "Cleric",
			MonthlyQuota: 200,
			PriceRef:     "price_1S9bsoF1aEX7i16QwR9OjTLN",
			PriceCents:   500,
			Features:     []string{"200 generations / month", "No visible watermark", "Priority support"},
		},
		Tier{
			ID:           Pro,
			Name:         "Saint",
			MonthlyQuota: 1000,
			PriceRef:     "price_1S9bsoF1aEX7i16QAEGszhjT",
			PriceCents:   1000,
			Features:     []string{"1,000 generations / month", "No visible watermark", "Priority support"},
		},
	)
}
