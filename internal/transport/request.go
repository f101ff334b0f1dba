package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentstation/mirrorsync/pkg/errors"
	"github.com/agentstation/mirrorsync/pkg/logging"
)

// apiError is the error body returned by the Notion API.
type apiError struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeResponse decodes a JSON response into the target structure. Any
// non-2xx status becomes a TransportError carrying the API's code and message.
func DecodeResponse(resp *http.Response, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			// Log warning but don't override the main error
			logging.Warn().Err(err).Msg("Failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errors.TransportError{StatusCode: resp.StatusCode, Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &errors.TransportError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Object == "error" {
			te.Code = ae.Code
			te.Message = ae.Message
		}
		return te
	}

	if target == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &errors.TransportError{StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}

	return nil
}
