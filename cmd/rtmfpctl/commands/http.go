package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// getJSON fetches path from the rtmfpd admin surface at serverAddr and
// decodes the response body into out.
func getJSON(path string, out any) error {
	url := "http://" + serverAddr + path

	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("request %s: unexpected status %s", url, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
