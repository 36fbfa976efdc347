package aigues

import (
	"fmt"

	"github.com/aiguesbcn/aigues/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Configured registers the client flags and returns a client that is usable
// once lflag.Configure has run.
func Configured() *Client {
	username := lflag.String("aigues-username", "", "Username (NIF/NIE) for the provider account")
	password := lflag.String("aigues-password", "", "Password for the provider account")
	contract := lflag.String("aigues-contract", "", "Contract number to use when the account has several")
	provider := lflag.String("aigues-provider", string(types.ProviderAgbar), "Provider to use (available: agbar, sorea)")
	sessionCookie := lflag.String("aigues-session-cookie", "", "JSESSIONID for providers without a login flow (sorea)")
	baseURL := lflag.String("aigues-base-url", "", "Override the provider base URL")
	timeout := lflag.Duration("aigues-timeout", DefaultTimeout, "Timeout for each provider request")
	minInterval := lflag.Duration("aigues-min-request-interval", 0, "Minimum time between provider requests (0 disables pacing)")

	c := &Client{}
	lflag.Do(func() {
		cfg := Config{
			Username:           *username,
			Password:           *password,
			Contract:           *contract,
			Provider:           types.ProviderID(*provider),
			SessionCookie:      *sessionCookie,
			BaseURL:            *baseURL,
			Timeout:            *timeout,
			MinRequestInterval: *minInterval,
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("aigues client config invalid: %v", err))
		}
		if err := c.init(cfg, nil); err != nil {
			panic(fmt.Sprintf("aigues client init failed: %v", err))
		}
	})
	return c
}
