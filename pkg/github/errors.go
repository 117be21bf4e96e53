package github

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sdejongh/branchsync/pkg/models"
)

// ErrRateLimited marks a 403 or 429 caused by an exhausted rate limit rather than missing permissions
var ErrRateLimited = errors.New("api rate limit exceeded")

// classify turns a non-success response into a models.Error of the matching kind
func (c *Client) classify(op, p string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	cause := errors.New(apiMessage(resp.StatusCode, body))

	kind := models.KindAPI
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		kind = models.KindAuth
	case http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			cause = ErrRateLimited
		} else {
			kind = models.KindPermission
		}
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusNotFound:
		kind = models.KindNotFound
	}

	return &models.Error{
		Kind:       kind,
		Op:         op,
		Path:       p,
		StatusCode: resp.StatusCode,
		Err:        cause,
	}
}

func apiMessage(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return msg
}
