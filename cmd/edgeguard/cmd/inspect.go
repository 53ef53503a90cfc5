package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kappakonnect/edgeguard/internal/firewall"
	"github.com/kappakonnect/edgeguard/internal/threat"
)

func init() {
	inspectCmd.Flags().StringP("method", "X", http.MethodGet, "request method")
	inspectCmd.Flags().Bool("fail-on-block", false, "exit non-zero when any target is rejected")
	rootCmd.AddCommand(inspectCmd)
}

// inspectResult is printed once per argument.
type inspectResult struct {
	Target  string `json:"target"`
	Verdict string `json:"verdict"`
	Status  int    `json:"status,omitempty"`
	Threat  string `json:"threat"`
	Message string `json:"message,omitempty"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect TARGET...",
	Short: "Run request targets (path?query) through the rules without forwarding",
	Example: `  edgeguard inspect "/search?q=%27%20OR%201%3D1--"
  edgeguard inspect --rules-file rules.yaml /.env /dashboard`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := threat.LoadSet(v.GetString("rules_file"))
		if err != nil {
			return err
		}
		var bypass *regexp.Regexp
		if p := v.GetString("bypass_pattern"); p != "" {
			if bypass, err = regexp.Compile(p); err != nil {
				return fmt.Errorf("bypass_pattern: %w", err)
			}
		}
		method, _ := cmd.Flags().GetString("method")
		fw := firewall.New(firewall.Config{Rules: rules, Bypass: bypass})

		enc := json.NewEncoder(os.Stdout)
		blocked := 0
		for _, target := range args {
			res, err := inspectTarget(cmd.Context(), fw, method, target)
			if err != nil {
				return err
			}
			if res.Verdict != firewall.Allow.String() {
				blocked++
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		if failOnBlock, _ := cmd.Flags().GetBool("fail-on-block"); failOnBlock && blocked > 0 {
			return fmt.Errorf("%d of %d targets rejected", blocked, len(args))
		}
		return nil
	},
}

func inspectTarget(ctx context.Context, fw *firewall.Firewall, method, target string) (inspectResult, error) {
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return inspectResult{}, fmt.Errorf("parse %q: %w", target, err)
	}
	res := fw.Inspect(ctx, firewall.Request{
		Method:   strings.ToUpper(method),
		Path:     u.EscapedPath(),
		RawQuery: u.RawQuery,
		Header:   http.Header{},
	})
	return inspectResult{
		Target:  target,
		Verdict: res.Verdict.String(),
		Status:  res.Verdict.Status(),
		Threat:  res.Threat,
		Message: res.Message,
	}, nil
}
