// Package pricing holds the product credit whitelist and per-service rates.
//
// Credit grants are never taken from client-supplied amounts; an unknown
// product identifier grants zero credits.
package pricing

import "strings"

// Product identifiers accepted from the purchase platform.
const (
	ProductCredits10 = "credits.10"
	ProductCredits25 = "credits.25"
	ProductCredits50 = "credits.50"
	ProductProMonth  = "pro.monthly"
	ProductProYear   = "pro.yearly"
)

// Metered service identifiers.
const (
	ServiceVoice  = "grok_voice"
	ServiceLLM    = "grok_llm"
	ServiceSocial = "x_api"
)

// Product describes one whitelisted purchase product.
type Product struct {
	ID      string  `mapstructure:"id" json:"id"`
	Credits float64 `mapstructure:"credits" json:"credits"`
	PriceUS float64 `mapstructure:"priceUsd" json:"price_usd"`
}

// VoiceRates prices voice sessions per minute.
type VoiceRates struct {
	PerMinute float64 `mapstructure:"perMinute" json:"per_minute"`
}

// TokenRates prices LLM usage per million tokens, split by modality
// and direction. Cached input is billed at its own rate.
type TokenRates struct {
	TextInputPerM   float64 `mapstructure:"textInputPerM" json:"text_input_per_m"`
	TextOutputPerM  float64 `mapstructure:"textOutputPerM" json:"text_output_per_m"`
	AudioInputPerM  float64 `mapstructure:"audioInputPerM" json:"audio_input_per_m"`
	AudioOutputPerM float64 `mapstructure:"audioOutputPerM" json:"audio_output_per_m"`
	CachedInputPerM float64 `mapstructure:"cachedInputPerM" json:"cached_input_per_m"`
}

// SocialRates prices social-API calls per call.
type SocialRates struct {
	PerRead  float64 `mapstructure:"perRead" json:"per_read"`
	PerWrite float64 `mapstructure:"perWrite" json:"per_write"`
}

// Table is the full pricing configuration.
type Table struct {
	Products []Product   `mapstructure:"products" json:"products"`
	Voice    VoiceRates  `mapstructure:"voice" json:"voice"`
	Tokens   TokenRates  `mapstructure:"tokens" json:"tokens"`
	Social   SocialRates `mapstructure:"social" json:"social"`
}

// DefaultTable returns the built-in pricing table.
func DefaultTable() Table {
	return Table{
		Products: []Product{
			{ID: ProductCredits10, Credits: 10, PriceUS: 9.99},
			{ID: ProductCredits25, Credits: 25, PriceUS: 24.99},
			{ID: ProductCredits50, Credits: 50, PriceUS: 49.99},
			{ID: ProductProMonth, Credits: 10, PriceUS: 9.99},
			{ID: ProductProYear, Credits: 120, PriceUS: 99.99},
		},
		Voice: VoiceRates{PerMinute: 0.05},
		Tokens: TokenRates{
			TextInputPerM:   2.00,
			TextOutputPerM:  10.00,
			AudioInputPerM:  10.00,
			AudioOutputPerM: 20.00,
			CachedInputPerM: 0.50,
		},
		Social: SocialRates{PerRead: 0.001, PerWrite: 0.004},
	}
}

// ProductCredits returns the credit grant for a product id and whether the
// product is whitelisted.
func (t Table) ProductCredits(productID string) (float64, bool) {
	productID = strings.TrimSpace(productID)
	for _, p := range t.Products {
		if p.ID == productID {
			return p.Credits, true
		}
	}
	return 0, false
}

// LLMUsage is the token breakdown reported for one LLM exchange.
type LLMUsage struct {
	TextInputTokens   float64 `json:"textInputTokens"`
	TextOutputTokens  float64 `json:"textOutputTokens"`
	AudioInputTokens  float64 `json:"audioInputTokens"`
	AudioOutputTokens float64 `json:"audioOutputTokens"`
	CachedInputTokens float64 `json:"cachedInputTokens"`
}

// VoiceCost prices a voice session in minutes.
func (t Table) VoiceCost(minutes float64) float64 {
	if minutes <= 0 {
		return 0
	}
	return minutes * t.Voice.PerMinute
}

// LLMCost prices one token-usage report.
func (t Table) LLMCost(u LLMUsage) float64 {
	const million = 1_000_000
	cost := u.TextInputTokens/million*t.Tokens.TextInputPerM +
		u.TextOutputTokens/million*t.Tokens.TextOutputPerM +
		u.AudioInputTokens/million*t.Tokens.AudioInputPerM +
		u.AudioOutputTokens/million*t.Tokens.AudioOutputPerM +
		u.CachedInputTokens/million*t.Tokens.CachedInputPerM
	if cost < 0 {
		return 0
	}
	return cost
}

// SocialCost prices social-API call counts.
func (t Table) SocialCost(reads, writes float64) float64 {
	cost := 0.0
	if reads > 0 {
		cost += reads * t.Social.PerRead
	}
	if writes > 0 {
		cost += writes * t.Social.PerWrite
	}
	return cost
}
