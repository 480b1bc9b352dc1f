package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/festalink/backend/internal/admin"
	"github.com/festalink/backend/internal/adminclient"
)

type apiFlags struct {
	url     string
	token   string
	vendors []string
	file    string
	batch   string
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "api", envOr("MARKETCTL_API_URL", "http://localhost:8080"), "API base URL")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("MARKETCTL_TOKEN"), "Admin bearer token")
	cmd.Flags().StringSliceVar(&f.vendors, "vendors", nil, "Vendor ids")
	cmd.Flags().StringVar(&f.file, "vendors-file", "", "File with one vendor id per line (- for stdin)")
	cmd.Flags().StringVar(&f.batch, "batch-id", "", "Reuse a batch id to resume a previous run")
}

func (f *apiFlags) client() (*adminclient.Client, error) {
	if f.token == "" {
		return nil, fmt.Errorf("admin token is required (--token or MARKETCTL_TOKEN)")
	}
	return adminclient.New(f.url, f.token), nil
}

func (f *apiFlags) batchID() (uuid.UUID, error) {
	if f.batch == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(f.batch)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --batch-id: %w", err)
	}
	return id, nil
}

func (f *apiFlags) vendorIDs(stdin io.Reader) ([]uuid.UUID, error) {
	raw := append([]string(nil), f.vendors...)
	if f.file != "" {
		r := stdin
		if f.file != "-" {
			fh, err := os.Open(f.file)
			if err != nil {
				return nil, err
			}
			defer fh.Close()
			r = fh
		}
		lines, err := readLines(r)
		if err != nil {
			return nil, err
		}
		raw = append(raw, lines...)
	}
	return parseVendorIDs(raw)
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func parseVendorIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no vendors given (--vendors or --vendors-file)")
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid vendor id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// report prints the result as JSON and fails when any vendor failed.
func report(w io.Writer, res *admin.BulkResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if n := len(res.Failed); n > 0 {
		return fmt.Errorf("%d vendors failed; rerun with --batch-id %s to retry them", n, res.BatchID)
	}
	return nil
}

func grantBonusCmd() *cobra.Command {
	var (
		f       apiFlags
		amount  int
		reason  string
		expires string
	)
	cmd := &cobra.Command{
		Use:   "grant-bonus",
		Short: "Grant bonus credits to many vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := f.vendorIDs(cmd.InOrStdin())
			if err != nil {
				return err
			}
			batch, err := f.batchID()
			if err != nil {
				return err
			}
			req := adminclient.BonusRequest{BatchID: batch, VendorIDs: ids, Amount: amount, Reason: reason}
			if expires != "" {
				t, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("invalid --expires-at: %w", err)
				}
				req.ExpiresAt = &t
			}
			c, err := f.client()
			if err != nil {
				return err
			}
			res, err := c.ApplyBonusToMany(cmd.Context(), req)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&amount, "amount", 0, "Credits per vendor")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason template; {vendor} and {amount} are replaced")
	cmd.Flags().StringVar(&expires, "expires-at", "", "Expiry (RFC3339); defaults to the configured bonus lifetime")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func messageVendorsCmd() *cobra.Command {
	var (
		f       apiFlags
		subject string
		body    string
		email   bool
	)
	cmd := &cobra.Command{
		Use:   "message-vendors",
		Short: "Send an in-app message to many vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := f.vendorIDs(cmd.InOrStdin())
			if err != nil {
				return err
			}
			batch, err := f.batchID()
			if err != nil {
				return err
			}
			c, err := f.client()
			if err != nil {
				return err
			}
			res, err := c.SendMessageToMany(cmd.Context(), adminclient.MessageRequest{
				BatchID: batch, VendorIDs: ids, Subject: subject, Body: body, Email: email,
			})
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&body, "body", "", "Message body")
	cmd.Flags().BoolVar(&email, "email", false, "Also email each vendor")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}
