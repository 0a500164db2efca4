package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// solanaAccountDoer issues a getAccountInfo JSON-RPC call against a Solana
// RPC endpoint and returns the decoded (base64) account data. No Solana SDK
// appears anywhere in the example corpus, so this speaks the wire protocol
// directly over net/http rather than reaching for an unexercised dependency.
func solanaAccountDoer(rpcURL string) func(ctx context.Context, feedID string) ([]byte, error) {
	client := &http.Client{}
	return func(ctx context.Context, feedID string) ([]byte, error) {
		reqBody, err := json.Marshal(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"method":  "getAccountInfo",
			"params":  []any{feedID, map[string]string{"encoding": "base64"}},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal getAccountInfo request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("build getAccountInfo request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("getAccountInfo request: %w", err)
		}
		defer resp.Body.Close()

		var out struct {
			Result struct {
				Value *struct {
					Data []string `json:"data"`
				} `json:"value"`
			} `json:"result"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode getAccountInfo response: %w", err)
		}
		if out.Error != nil {
			return nil, fmt.Errorf("rpc error: %s", out.Error.Message)
		}
		if out.Result.Value == nil || len(out.Result.Value.Data) == 0 {
			return nil, fmt.Errorf("account %s not found", feedID)
		}

		return base64.StdEncoding.DecodeString(out.Result.Value.Data[0])
	}
}
