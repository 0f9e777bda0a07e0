// Package imbridge relays chat messages between NetEase NIM and the advisor.
package imbridge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wuxing-advisor/server/internal/advisor/model"
)

// CodeUserExists is returned by user/create.action for a known accid.
const CodeUserExists = 414

// APIError is a reply whose code is not 200.
type APIError struct {
	Code int
	Desc string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nim api code %d: %s", e.Code, e.Desc)
}

type apiReply struct {
	Code int             `json:"code"`
	Desc string          `json:"desc"`
	Info json.RawMessage `json:"info"`
}

// Credentials is the login pair handed to the web client.
type Credentials struct {
	AccID string `json:"accid"`
	Token string `json:"token"`
}

// Client calls the NIM server API. Every request is signed with
// CheckSum = SHA1(AppSecret + Nonce + CurTime).
type Client struct {
	cfg  model.NIMConfig
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg model.NIMConfig, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: client, now: time.Now}
}

func (c *Client) CreateUser(ctx context.Context, accID, name string) (Credentials, error) {
	form := url.Values{"accid": {accID}}
	if name != "" {
		form.Set("name", name)
	}
	return c.credentials(ctx, "/user/create.action", form)
}

func (c *Client) RefreshToken(ctx context.Context, accID string) (Credentials, error) {
	return c.credentials(ctx, "/user/refreshToken.action", url.Values{"accid": {accID}})
}

// SendText sends a peer-to-peer text message.
func (c *Client) SendText(ctx context.Context, from, to, text string) error {
	body, err := json.Marshal(map[string]string{"msg": text})
	if err != nil {
		return err
	}
	_, err = c.post(ctx, "/msg/sendMsg.action", url.Values{
		"from": {from},
		"ope":  {"0"},
		"to":   {to},
		"type": {"0"},
		"body": {string(body)},
	})
	return err
}

func (c *Client) credentials(ctx context.Context, path string, form url.Values) (Credentials, error) {
	info, err := c.post(ctx, path, form)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(info, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode %s info: %w", path, err)
	}
	if creds.AccID == "" {
		creds.AccID = form.Get("accid")
	}
	return creds, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (json.RawMessage, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	c.sign(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nim %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("nim %s: read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: resp.StatusCode, Desc: strings.TrimSpace(string(raw))}
	}
	var reply apiReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("nim %s: decode reply: %w", path, err)
	}
	if reply.Code != http.StatusOK {
		return nil, &APIError{Code: reply.Code, Desc: reply.Desc}
	}
	return reply.Info, nil
}

func (c *Client) sign(h http.Header) {
	nonce := uuid.NewString()
	curTime := strconv.FormatInt(c.now().Unix(), 10)
	h.Set("AppKey", c.cfg.AppKey)
	h.Set("Nonce", nonce)
	h.Set("CurTime", curTime)
	h.Set("CheckSum", CheckSum(c.cfg.AppSecret, nonce, curTime))
	h.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
}

// CheckSum returns the lowercase hex SHA1 of secret+nonce+curTime.
func CheckSum(secret, nonce, curTime string) string {
	sum := sha1.Sum([]byte(secret + nonce + curTime))
	return hex.EncodeToString(sum[:])
}
