package types

import "fmt"

// ProviderID identifies one of the supported water providers.
type ProviderID string

const (
	// ProviderAgbar is the standard provider with a REST/JSON api.
	ProviderAgbar ProviderID = "agbar"
	// ProviderSorea is the secondary provider that only exposes portlet pages.
	ProviderSorea ProviderID = "sorea"
)

// ProviderInfo provides metadata about a provider.
type ProviderInfo struct {
	ID          ProviderID           `json:"id"`
	Name        string               `json:"name"`
	Host        string               `json:"host"`
	Credentials []ProviderCredential `json:"credentials"`
}

// ProviderCredential describes one configuration value a provider needs.
type ProviderCredential struct {
	Field       string `json:"field"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

var providers = []ProviderInfo{
	{
		ID:   ProviderAgbar,
		Name: "Aigües de Barcelona",
		Host: "api.aiguesdebarcelona.cat",
		Credentials: []ProviderCredential{
			{Field: "username", Name: "Username (NIF/NIE)", Type: "string", Required: true},
			{Field: "password", Name: "Password", Type: "password", Required: true},
			{
				Field:       "contract",
				Name:        "Contract (Optional)",
				Type:        "string",
				Description: "Required when the account has more than one contract.",
			},
		},
	},
	{
		ID:   ProviderSorea,
		Name: "Sorea",
		Host: "api.soreaonline.cat",
		Credentials: []ProviderCredential{
			{
				Field:       "sessionCookie",
				Name:        "JSESSIONID",
				Type:        "password",
				Required:    true,
				Description: "Session cookie copied from a logged in browser.",
			},
			{Field: "contract", Name: "Contract (Optional)", Type: "string"},
		},
	},
}

// Providers returns the metadata of every supported provider.
func Providers() []ProviderInfo {
	out := make([]ProviderInfo, len(providers))
	copy(out, providers)
	return out
}

// LookupProvider returns the metadata for id.
func LookupProvider(id ProviderID) (ProviderInfo, error) {
	for _, p := range providers {
		if p.ID == id {
			return p, nil
		}
	}
	return ProviderInfo{}, fmt.Errorf("unknown provider: %s", id)
}
