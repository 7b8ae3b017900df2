package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const coinCapURL = "https://api.coincap.io/v2/assets/"

// GetCryptoRate returns the current USD rate of a crypto currency
type GetCryptoRate struct {
	// BaseURL overrides the CoinCap endpoint, used in tests
	BaseURL string
}

var _ Function = GetCryptoRate{}

func (t GetCryptoRate) Name() string {
	return "get_crypto_rate"
}

func (t GetCryptoRate) Description() string {
	return "Get the current rate of various crypto currencies"
}

func (t GetCryptoRate) Parameters() map[string]any {
	return properties([]string{"asset"}, map[string]any{
		"asset": stringProperty("Asset of the crypto, e.g. btc or ethereum"),
	})
}

func (t GetCryptoRate) Call(ctx context.Context, input string) (string, error) {
	asset := argument(input, "asset")
	if asset == "" {
		return "", fmt.Errorf("asset is empty")
	}
	base := t.BaseURL
	if base == "" {
		base = coinCapURL
	}

	return getCryptoRate(ctx, base, asset)
}

func getCryptoRate(ctx context.Context, base, asset string) (string, error) {
	asset = strings.ToLower(asset)
	format := "$%0.0f"
	switch asset {
	case "btc":
		asset = "bitcoin"
	case "eth":
		asset = "ethereum"
	case "ltc":
		asset = "litecoin"
	case "xrp":
		asset = "ripple"
		format = "$%0.3f"
	case "xlm":
		asset = "stellar"
		format = "$%0.3f"
	case "ada":
		asset = "cardano"
		format = "$%0.3f"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+asset, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rate lookup for %s returned status %d", asset, resp.StatusCode)
	}

	price := gjson.GetBytes(body, "data.priceUsd")
	if !price.Exists() {
		return "", fmt.Errorf("no rate found for %s", asset)
	}

	return fmt.Sprintf(format, price.Float()), nil
}
