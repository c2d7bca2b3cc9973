package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// errorBody mirrors the control API's JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// getJSON issues a GET request against the control API and decodes the
// response body into out. Non-2xx responses are surfaced as errors using
// the response's error envelope when present.
func getJSON(path string, out any) error {
	resp, err := httpClient.Get(baseURL() + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		if jsonErr := json.Unmarshal(body, &eb); jsonErr == nil && eb.Error != "" {
			return fmt.Errorf("%s: %s (status %d)", path, eb.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}

	return nil
}
