package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pithecene-io/tributary/iox"
	"github.com/pithecene-io/tributary/types"
)

// Request headers sent to the stream-events endpoint.
const (
	HeaderTenantID     = "X-Tenant-ID"
	HeaderUserID       = "X-User-ID"
	HeaderWorkspaceID  = "X-Workspace-ID"
	HeaderServiceToken = "X-Service-Token"
	HeaderRequestID    = "X-Request-ID"

	// ContentTypeNDJSON is the Accept value for the event stream.
	ContentTypeNDJSON = "application/x-ndjson"
)

// maxStatusBody bounds the error body kept in a StatusError.
const maxStatusBody = 4 * 1024

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stream endpoint returned status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("stream endpoint returned status %d", e.Code)
}

// openStream issues the POST for one run and returns the streaming body.
// Any failure is a *StreamError of kind StreamErrorTransport.
func openStream(
	ctx context.Context,
	client *http.Client,
	endpoint string,
	serviceToken string,
	requestID string,
	params types.RunParams,
) (io.ReadCloser, error) {
	body, err := json.Marshal(types.NewStreamRequest(requestID, params))
	if err != nil {
		return nil, &StreamError{Kind: StreamErrorTransport, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &StreamError{Kind: StreamErrorTransport, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", ContentTypeNDJSON)
	req.Header.Set(HeaderTenantID, params.TenantID)
	req.Header.Set(HeaderUserID, params.UserID)
	req.Header.Set(HeaderRequestID, requestID)
	if params.WorkspaceID != nil && *params.WorkspaceID != "" {
		req.Header.Set(HeaderWorkspaceID, *params.WorkspaceID)
	}
	if serviceToken != "" {
		req.Header.Set(HeaderServiceToken, serviceToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &StreamError{Kind: StreamErrorTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StreamError{
			Kind: StreamErrorTransport,
			Err:  &StatusError{Code: resp.StatusCode, Body: iox.DrainClose(resp.Body, maxStatusBody)},
		}
	}
	return resp.Body, nil
}
