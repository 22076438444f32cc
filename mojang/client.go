// Copyright (C) 2023 MineSkin.org
// See LICENSE for copying information.

// Package mojang drives the upstream profile service: credential
// authentication, the skin-change endpoint, profile reads, and the
// security-question challenge flow.
package mojang

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"mineskin.org/mineskin/skins"
)

var mon = monkit.Package()

// Error is the default mojang errs class.
var Error = errs.Class("mojang")

// ErrAuth covers authenticate/refresh/validate failures; the message
// carries the upstream response body.
var ErrAuth = errs.Class("authentication")

// ErrSkinChange is returned when the skin endpoint answers non-2xx.
var ErrSkinChange = errs.Class("skin change failed")

// userAgent identifies this service upstream.
const userAgent = "MineSkin.org"

// RequestAddr carries the addresses attached to an egress request: the
// originating end user as X-Forwarded-For and the account's home address
// as REMOTE_ADDR, falling back to the user address when the account has
// none on record.
type RequestAddr struct {
	UserIP    string
	AccountIP string
}

// Config holds upstream endpoints and the outbound timeout.
type Config struct {
	AuthBaseURL    string        `help:"base url of the authentication server" default:"https://authserver.mojang.com"`
	APIBaseURL     string        `help:"base url of the services api" default:"https://api.minecraftservices.com"`
	SessionBaseURL string        `help:"base url of the session server" default:"https://sessionserver.mojang.com"`
	AccountBaseURL string        `help:"base url of the account api" default:"https://api.mojang.com"`
	RequestTimeout time.Duration `help:"timeout for upstream requests" default:"30s"`
}

// Client is a thin wrapper over the upstream HTTP API. Every request
// carries a fixed user agent plus the addresses from its RequestAddr.
type Client struct {
	log    *zap.Logger
	http   *http.Client
	config Config
}

// NewClient creates an upstream client with bounded request timeouts.
func NewClient(log *zap.Logger, config Config) *Client {
	return &Client{
		log:    log,
		http:   &http.Client{Timeout: config.RequestTimeout},
		config: config,
	}
}

// HTTP exposes the underlying client for plain downloads sharing the same
// timeout policy.
func (client *Client) HTTP() *http.Client { return client.http }

type agent struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type authenticateRequest struct {
	Agent       agent  `json:"agent"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

type tokenRequest struct {
	AccessToken string `json:"accessToken"`
	ClientToken string `json:"clientToken"`
	RequestUser bool   `json:"requestUser"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Authenticate performs a fresh login and returns the issued access token.
func (client *Client) Authenticate(ctx context.Context, username, password, clientToken string, addr RequestAddr) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.postJSON(ctx, client.config.AuthBaseURL+"/authenticate", "", addr, authenticateRequest{
		Agent:       agent{Name: "Minecraft", Version: 1},
		Username:    username,
		Password:    password,
		ClientToken: clientToken,
		RequestUser: true,
	})
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}
	if status/100 != 2 {
		return "", ErrAuth.New("authenticate failed (%d): %s", status, body)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		return "", ErrAuth.New("authenticate returned no access token")
	}
	return resp.AccessToken, nil
}

// Validate checks whether an access token is still usable.
func (client *Client) Validate(ctx context.Context, accessToken, clientToken string, addr RequestAddr) (err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.postJSON(ctx, client.config.AuthBaseURL+"/validate", "", addr, tokenRequest{
		AccessToken: accessToken,
		ClientToken: clientToken,
		RequestUser: true,
	})
	if err != nil {
		return ErrAuth.Wrap(err)
	}
	if status/100 != 2 {
		return ErrAuth.New("validate failed (%d): %s", status, body)
	}
	return nil
}

// Refresh exchanges an expired access token for a new one.
func (client *Client) Refresh(ctx context.Context, accessToken, clientToken string, addr RequestAddr) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.postJSON(ctx, client.config.AuthBaseURL+"/refresh", "", addr, tokenRequest{
		AccessToken: accessToken,
		ClientToken: clientToken,
		RequestUser: true,
	})
	if err != nil {
		return "", ErrAuth.Wrap(err)
	}
	if status/100 != 2 {
		return "", ErrAuth.New("refresh failed (%d): %s", status, body)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.AccessToken == "" {
		return "", ErrAuth.New("refresh returned no access token")
	}
	return resp.AccessToken, nil
}

type skinURLRequest struct {
	Variant skins.Variant `json:"variant"`
	URL     string        `json:"url"`
}

// ChangeSkinFromURL points the account's skin at a remote image.
func (client *Client) ChangeSkinFromURL(ctx context.Context, accessToken string, addr RequestAddr, variant skins.Variant, url string) (err error) {
	defer mon.Task()(&ctx)(&err)

	body, status, err := client.postJSON(ctx, client.config.APIBaseURL+"/minecraft/profile/skins", accessToken, addr, skinURLRequest{
		Variant: variant,
		URL:     url,
	})
	if err != nil {
		return ErrSkinChange.Wrap(err)
	}
	if status/100 != 2 {
		return ErrSkinChange.New("upstream rejected url change (%d): %s", status, body)
	}
	return nil
}

// ChangeSkinFromFile uploads raw skin bytes as multipart form data.
func (client *Client) ChangeSkinFromFile(ctx context.Context, accessToken string, addr RequestAddr, variant skins.Variant, file []byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("variant", string(variant)); err != nil {
		return ErrSkinChange.Wrap(err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="skin.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		return ErrSkinChange.Wrap(err)
	}
	if _, err := part.Write(file); err != nil {
		return ErrSkinChange.Wrap(err)
	}
	if err := writer.Close(); err != nil {
		return ErrSkinChange.Wrap(err)
	}

	req, err := client.newRequest(ctx, http.MethodPost, client.config.APIBaseURL+"/minecraft/profile/skins", &buf, accessToken, addr)
	if err != nil {
		return ErrSkinChange.Wrap(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, status, err := client.do(req)
	if err != nil {
		return ErrSkinChange.Wrap(err)
	}
	if status/100 != 2 {
		return ErrSkinChange.New("upstream rejected file change (%d): %s", status, body)
	}
	return nil
}

func (client *Client) newRequest(ctx context.Context, method, url string, body io.Reader, accessToken string, addr RequestAddr) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if addr.UserIP != "" {
		req.Header.Set("X-Forwarded-For", addr.UserIP)
	}
	remote := addr.AccountIP
	if remote == "" {
		remote = addr.UserIP
	}
	if remote != "" {
		req.Header.Set("REMOTE_ADDR", remote)
	}
	return req, nil
}

func (client *Client) postJSON(ctx context.Context, url, accessToken string, addr RequestAddr, payload interface{}) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := client.newRequest(ctx, http.MethodPost, url, bytes.NewReader(encoded), accessToken, addr)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.do(req)
}

func (client *Client) getJSON(ctx context.Context, url, accessToken string, addr RequestAddr) ([]byte, int, error) {
	req, err := client.newRequest(ctx, http.MethodGet, url, nil, accessToken, addr)
	if err != nil {
		return nil, 0, err
	}
	return client.do(req)
}

func (client *Client) do(req *http.Request) (_ []byte, _ int, err error) {
	resp, err := client.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { err = errs.Combine(err, resp.Body.Close()) }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
