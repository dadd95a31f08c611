package main

import (
	"encoding/json"
	"fmt"
	"os"

	"zmcptools/internal/api"
)

// printResponse renders an api.Response as indented JSON on stdout and
// returns a non-nil error when the operation itself failed, so cobra exits
// non-zero per spec §6's exit-code contract.
func printResponse(resp api.Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}
