package twiliohttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/SimKeeper/internal/integrations/sms"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.twilio.com"

type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
}

// New creates a Twilio Messages API client. perSecond <= 0 disables pacing.
func New(baseURL string, timeout time.Duration, perSecond float64) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
	if perSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return c
}

type messageResp struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type errorResp struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (c *Client) Send(ctx context.Context, msg sms.Message) (sms.Result, error) {
	creds := msg.Credentials
	if !creds.Present() {
		return sms.Result{}, errors.New("twilio configuration missing")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return sms.Result{}, errors.Wrap(err, "wait rate limit")
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(creds.AccountSID))

	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", creds.FromNumber)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return sms.Result{}, errors.Wrap(err, "new request")
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return sms.Result{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e errorResp
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Message == "" {
			return sms.Result{}, fmt.Errorf("twilio http %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		return sms.Result{}, fmt.Errorf("twilio http %d: %s", resp.StatusCode, e.Message)
	}

	var r messageResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return sms.Result{}, errors.Wrap(err, "decode")
	}

	return sms.Result{
		SID:     r.SID,
		Message: fmt.Sprintf("Sent %q to server.", msg.Body),
	}, nil
}
