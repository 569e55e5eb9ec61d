package proxy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/landwatch/landwatch/internal/netutil"
)

// DefaultWebshareURL is the direct-mode proxy list endpoint.
const DefaultWebshareURL = "https://proxy.webshare.io/api/v2/proxy/list/?mode=direct&page=1&page_size=25"

const webshareTimeout = 15 * time.Second

// Webshare fetches the proxy roster from the webshare.io API.
type Webshare struct {
	Token  string
	URL    string // defaults to DefaultWebshareURL
	Client *netutil.Client
}

// NewWebshare creates a provider for the given API token.
func NewWebshare(token string) *Webshare {
	return &Webshare{
		Token:  token,
		URL:    DefaultWebshareURL,
		Client: netutil.NewClient(webshareTimeout),
	}
}

type webshareProxy struct {
	ProxyAddress string `json:"proxy_address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Valid        bool   `json:"valid"`
	CountryCode  string `json:"country_code"`
}

type webshareList struct {
	Count   int             `json:"count"`
	Results []webshareProxy `json:"results"`
}

// Fetch returns the currently valid proxies in wire form. Entries the API
// marks invalid or that lack an address are skipped.
func (w *Webshare) Fetch(ctx context.Context) ([]Settings, error) {
	url := w.URL
	if url == "" {
		url = DefaultWebshareURL
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+w.Token)

	var list webshareList
	if err := w.Client.GetJSON(ctx, url, header, &list); err != nil {
		return nil, fmt.Errorf("proxy: webshare list: %w", err)
	}

	out := make([]Settings, 0, len(list.Results))
	for _, p := range list.Results {
		if !p.Valid || p.ProxyAddress == "" || p.Port <= 0 {
			continue
		}
		out = append(out, Settings{
			Server:   fmt.Sprintf("http://%s:%d", p.ProxyAddress, p.Port),
			Username: p.Username,
			Password: p.Password,
		})
	}
	return out, nil
}
