package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrCookieMissing   = errors.New("cookie is empty")
	ErrAccountRequest  = errors.New("account request failed")
	ErrAccountResponse = errors.New("malformed account response")
	ErrCookieRejected  = errors.New("cookie rejected")
)

// StatusError is a non-200 answer from the account endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("account endpoint returned status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return ErrAccountRequest }

// RejectedError is an API-level refusal. Code 0 means the call succeeded
// but carried no account.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("cookie rejected (code %d): %s", e.Code, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrCookieRejected }

// Account is the subset of /x/space/myinfo shown by the cookie check.
type Account struct {
	Name  string `json:"name"`
	Mid   int64  `json:"mid"`
	Level struct {
		Current int `json:"current_level"`
	} `json:"level_info"`
	Vip struct {
		Status int `json:"status"`
		Type   int `json:"type"`
	} `json:"vip"`
}

// VipText renders the membership state.
func (a Account) VipText() string {
	switch {
	case a.Vip.Status == 0:
		return "未开通"
	case a.Vip.Type == 2:
		return "大会员"
	default:
		return "年度大会员"
	}
}

type myInfoResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    *Account `json:"data"`
}

// CheckCookie asks the account endpoint who the cookie belongs to. The
// cookie must already be normalized.
func (c *Client) CheckCookie(ctx context.Context, cookie string) (Account, error) {
	if cookie == "" {
		return Account{}, ErrCookieMissing
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.MyInfoAPI, nil)
	if err != nil {
		return Account{}, err
	}
	c.setHeaders(req)
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrAccountRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Account{}, &StatusError{Code: resp.StatusCode}
	}

	var body myInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrAccountResponse, err)
	}
	if body.Code != 0 || body.Data == nil {
		return Account{}, &RejectedError{Code: body.Code, Message: body.Message}
	}
	return *body.Data, nil
}
