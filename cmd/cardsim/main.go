// Command cardsim plays both sides of a tap against a running server: it
// encodes a card scan, fetches the withdraw offer like a point-of-sale
// wallet would, then submits an invoice to the callback.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/boltcard/internal/lightning"
	"github.com/congo-pay/boltcard/internal/logging"
	"github.com/congo-pay/boltcard/internal/tap"
)

type offer struct {
	Tag             string `json:"tag"`
	Callback        string `json:"callback"`
	K1              string `json:"k1"`
	MaxWithdrawable int64  `json:"maxWithdrawable"`
	Status          string `json:"status"`
	Reason          string `json:"reason"`
}

type callbackResult struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func main() {
	var (
		base     = flag.String("base", "http://localhost:8080", "server origin")
		uid      = flag.String("uid", "", "7-byte card uid (hex)")
		k2       = flag.String("k2", "", "card MAC key (hex)")
		counter  = flag.Uint("counter", 1, "tap counter, must exceed the last accepted value")
		sats     = flag.Int64("sats", 1_000, "invoice amount in sats")
		tagAlg   = flag.String("tag", "legacy", "tag algorithm: legacy or cmac")
		parallel = flag.Int("parallel", 1, "concurrent callbacks sent for the same k1")
		timeout  = flag.Duration("timeout", 10*time.Second, "overall timeout")
	)
	flag.Parse()

	logger := logging.New("info", true)
	if err := run(*base, *uid, *k2, uint16(*counter), *sats, *tagAlg, *parallel, *timeout, logger); err != nil {
		logger.Error("simulation failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(base, uid, k2 string, counter uint16, sats int64, tagAlg string, parallel int, timeout time.Duration, logger *slog.Logger) error {
	if uid == "" || k2 == "" {
		return errors.New("-uid and -k2 are required")
	}
	tagFunc, err := tap.TagFuncFor(tagAlg)
	if err != nil {
		return err
	}
	p, c, err := tap.EncodeTap(uid, counter, k2, tagFunc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := &http.Client{Timeout: timeout}

	var o offer
	tapURL := strings.TrimRight(base, "/") + "/withdraw?" + url.Values{"p": {p}, "c": {c}}.Encode()
	if err := getJSON(ctx, client, tapURL, &o); err != nil {
		return fmt.Errorf("fetch offer: %w", err)
	}
	if o.Status == "ERROR" {
		return fmt.Errorf("tap rejected: %s", o.Reason)
	}
	logger.Info("offer received", slog.String("callback", o.Callback), slog.Int64("max_withdrawable_msat", o.MaxWithdrawable))

	hash := sha256.Sum256([]byte(uuid.NewString()))
	pr, err := lightning.EncodeInvoice(sats*1000, hash[:], "cardsim", time.Now())
	if err != nil {
		return err
	}
	callbackURL := o.Callback + "?" + url.Values{"k1": {o.K1}, "pr": {pr}}.Encode()

	if parallel < 1 {
		parallel = 1
	}
	var (
		mu      sync.Mutex
		results = make(map[string]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < parallel; i++ {
		g.Go(func() error {
			var res callbackResult
			if err := getJSON(gctx, client, callbackURL, &res); err != nil {
				return err
			}
			outcome := res.Status
			if res.Reason != "" {
				outcome += ": " + res.Reason
			}
			mu.Lock()
			results[outcome]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("callback: %w", err)
	}
	for outcome, n := range results {
		logger.Info("callback result", slog.String("outcome", outcome), slog.Int("count", n))
	}
	return nil
}

// getJSON decodes the body whatever the status; LNURL errors come back as
// 4xx responses with a JSON envelope.
func getJSON(ctx context.Context, client *http.Client, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
