package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/gateway"
)

// serverURL derives the base URL of a locally running server from cfg.
func serverURL(cfg config.ServerConfig) string {
	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	host := "127.0.0.1"
	if cfg.Bind == "custom" && cfg.CustomBindHost != "" && cfg.CustomBindHost != "0.0.0.0" {
		host = cfg.CustomBindHost
	}
	port := cfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// resolveServer returns the --server flag, or the URL derived from config.
func resolveServer(flag string) string {
	if flag != "" {
		return strings.TrimRight(flag, "/")
	}
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.Defaults()
	}
	return serverURL(cfg.Server)
}

// getJSON fetches url and decodes a JSON body into v. Idempotent reads are
// retried briefly while the server starts.
func getJSON(url string, v any) error {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var eb struct {
			Error gateway.ErrorShape `json:"error"`
		}
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, eb.Error.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.Unmarshal(body, v)
}
