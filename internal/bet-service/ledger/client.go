package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ledgerdto "github.com/radieske/dice-bet-platform-poc/internal/bet-service/ledger/dto"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrLockNotActive     = errors.New("ledger: lock not active")
	ErrNotFound          = errors.New("ledger: not found")
)

// Client fala com o ledger-service por HTTP. Todas as mutações são
// idempotentes por ref (betId), então o retry de falhas transientes é seguro.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	// retries adicionais pra falhas transientes (transporte / 5xx)
	Retries int
	Backoff time.Duration
}

func New(base string) *Client {
	return &Client{
		BaseURL: base,
		HTTP:    &http.Client{Timeout: 2 * time.Second},
		Retries: 2,
		Backoff: 300 * time.Millisecond,
	}
}

// BalanceOf retorna o saldo disponível do usuário.
func (c *Client) BalanceOf(ctx context.Context, user string) (int64, error) {
	var out ledgerdto.BalanceResponse
	err := c.get(ctx, "/ledger/balance?userId="+url.QueryEscape(user), &out)
	return out.AmountUnits, err
}

// LockedBalanceOf retorna o saldo bloqueado do usuário.
func (c *Client) LockedBalanceOf(ctx context.Context, user string) (int64, error) {
	var out ledgerdto.BalanceResponse
	err := c.get(ctx, "/ledger/locked?userId="+url.QueryEscape(user), &out)
	return out.AmountUnits, err
}

// LockBalance bloqueia amount do usuário como backing da aposta ref.
func (c *Client) LockBalance(ctx context.Context, user string, amount int64, ref string) error {
	var out ledgerdto.LockResponse
	return c.post(ctx, "/ledger/lock",
		ledgerdto.LockRequest{UserID: user, AmountUnits: amount, Ref: ref}, &out)
}

// UnlockBalance devolve amount bloqueado da aposta ref ao saldo do usuário.
func (c *Client) UnlockBalance(ctx context.Context, user string, amount int64, ref string) error {
	var out ledgerdto.LockResponse
	return c.post(ctx, "/ledger/unlock",
		ledgerdto.LockRequest{UserID: user, AmountUnits: amount, Ref: ref}, &out)
}

// ExecuteBet liquida a aposta no ledger. Replayed indica que o ref já tinha
// sido liquidado numa tentativa anterior (crash entre ledger e bet store).
func (c *Client) ExecuteBet(ctx context.Context, req ledgerdto.ExecuteRequest) (ledgerdto.ExecuteResponse, error) {
	var out ledgerdto.ExecuteResponse
	err := c.post(ctx, "/ledger/execute", req, &out)
	return out, err
}

// LockState retorna o status do lock de um ref: LOCKED, UNLOCKED ou SETTLED.
func (c *Client) LockState(ctx context.Context, ref string) (string, error) {
	var out ledgerdto.LockResponse
	err := c.get(ctx, "/ledger/lock/"+url.PathEscape(ref), &out)
	return out.Status, err
}

// Settlement retorna a liquidação registrada para um ref.
func (c *Client) Settlement(ctx context.Context, ref string) (ledgerdto.SettlementResponse, error) {
	var out ledgerdto.SettlementResponse
	err := c.get(ctx, "/ledger/settlement/"+url.PathEscape(ref), &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.Backoff):
			}
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		res, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if res.StatusCode < 300 {
			err = json.NewDecoder(res.Body).Decode(out)
			res.Body.Close()
			return err
		}

		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		res.Body.Close()
		if res.StatusCode >= 500 {
			lastErr = fmt.Errorf("ledger http %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
			continue
		}
		return mapClientErr(res.StatusCode, string(msg))
	}
	return lastErr
}

// mapClientErr traduz respostas 4xx do ledger em erros tipados.
func mapClientErr(status int, body string) error {
	switch {
	case status == http.StatusNotFound:
		return ErrNotFound
	case strings.Contains(body, "insufficient funds"):
		return ErrInsufficientFunds
	case strings.Contains(body, "lock not active"):
		return ErrLockNotActive
	default:
		return fmt.Errorf("ledger http %d: %s", status, strings.TrimSpace(body))
	}
}
