// Command configctl is an operator CLI for the configuration governance
// REST API: generating validator keys, proposing and voting on
// configurations, and inspecting chain state.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/rechain/configchain/pkg/crypto"
)

var (
	apiAddr string
	keyFile string
)

func main() {
	root := &cobra.Command{
		Use:   "configctl",
		Short: "operator CLI for the configuration governance chain",
	}

	root.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "REST API base address")
	root.PersistentFlags().StringVar(&keyFile, "key", "validator.key", "path to this validator's signing key")

	root.AddCommand(keygenCmd(), proposeCmd(), voteCmd(), showCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a new validator signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("generate key pair: %w", err)
			}
			if err := os.WriteFile(keyFile, []byte(base64.StdEncoding.EncodeToString(kp.Seed())), 0600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			fmt.Printf("public key: %s\n", kp.Public.String())
			return nil
		},
	}
}

func loadKeyPair() (*crypto.KeyPair, error) {
	encoded, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file %s: %w", keyFile, err)
	}
	seed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(encoded)))
	if err != nil {
		return nil, fmt.Errorf("decode key file: %w", err)
	}
	return crypto.LoadKeyPair(seed)
}

func proposeCmd() *cobra.Command {
	var referencedHash string
	var payloadFile string

	cmd := &cobra.Command{
		Use:   "propose",
		Short: "submit a Propose transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := loadKeyPair()
			if err != nil {
				return err
			}

			payload, err := os.ReadFile(payloadFile)
			if err != nil {
				return fmt.Errorf("read payload file: %w", err)
			}

			sig := kp.Sign(payload)
			req := map[string]interface{}{
				"from":                   kp.Public.String(),
				"referenced_config_hash": referencedHash,
				"signature":              base64.StdEncoding.EncodeToString(sig),
				"payload":                json.RawMessage(payload),
			}
			return postJSON("/configuration/propose", req)
		},
	}
	cmd.Flags().StringVar(&referencedHash, "referenced", "", "hex hash of the configuration this proposal builds on")
	cmd.Flags().StringVar(&payloadFile, "payload", "", "path to the proposed StoredConfiguration JSON file")
	cmd.MarkFlagRequired("referenced")
	cmd.MarkFlagRequired("payload")
	return cmd
}

func voteCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "vote",
		Short: "submit a Vote transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := loadKeyPair()
			if err != nil {
				return err
			}

			var targetHash crypto.Hash
			if err := targetHash.UnmarshalJSON([]byte(`"` + target + `"`)); err != nil {
				return fmt.Errorf("invalid target hash: %w", err)
			}

			sig := kp.Sign(targetHash[:])
			req := map[string]string{
				"from":               kp.Public.String(),
				"target_config_hash": target,
				"signature":          base64.StdEncoding.EncodeToString(sig),
			}
			return postJSON("/configuration/vote", req)
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "hex hash of the configuration being voted on")
	cmd.MarkFlagRequired("target")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "inspect chain state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "active",
			Short: "show the currently active configuration",
			RunE:  func(cmd *cobra.Command, args []string) error { return getJSON("/configuration/active") },
		},
		&cobra.Command{
			Use:   "following",
			Short: "show the scheduled-but-not-yet-active configuration, if any",
			RunE:  func(cmd *cobra.Command, args []string) error { return getJSON("/configuration/following") },
		},
		&cobra.Command{
			Use:   "proposal [hash]",
			Short: "show a recorded proposal",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getJSON("/configuration/proposals/" + args[0])
			},
		},
		&cobra.Command{
			Use:   "votes [hash]",
			Short: "show every vote recorded for a configuration hash",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return getJSON("/configuration/votes/" + args[0])
			},
		},
	)
	return cmd
}

func postJSON(path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	resp, err := http.Post(apiAddr+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func getJSON(path string) error {
	resp, err := http.Get(apiAddr + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %s", resp.Status)
	}
	return nil
}
