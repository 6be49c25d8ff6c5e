package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/cobra"
)

var doctorJSON bool

// checkResult is one diagnostic outcome.
type checkResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment for running workflows",
	Long: `Doctor verifies the pieces a run depends on: Bedrock routing
variables, the agent binary, network reachability of the Bedrock runtime
endpoint, and local resources. It exits non-zero when a required check
fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return asExit(err)
		}

		checks := runChecks(cmd.Context(), cfg.Agent.Path)

		if doctorJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				Checks []checkResult `json:"checks"`
			}{checks}); err != nil {
				return asExit(err)
			}
		} else {
			printChecks(cmd, checks)
		}

		for _, c := range checks {
			if c.Status == "fail" {
				return &exitError{code: exitFailure,
					err: fmt.Errorf("environment check failed: %s", c.Name)}
			}
		}
		return nil
	},
}

func runChecks(ctx context.Context, agentPath string) []checkResult {
	var checks []checkResult

	region := os.Getenv("AWS_REGION")
	if region == "" {
		checks = append(checks, checkResult{
			Name: "AWS_REGION", Status: "fail",
			Message: "AWS_REGION environment variable not set",
			Fix:     "export AWS_REGION=us-east-1",
		})
	} else {
		checks = append(checks, checkResult{
			Name: "AWS_REGION", Status: "pass", Message: region,
		})
	}

	if model := os.Getenv("BEDROCK_MODEL_ID"); model == "" {
		checks = append(checks, checkResult{
			Name: "BEDROCK_MODEL_ID", Status: "warn",
			Message: "not set; workflows must declare a model",
		})
	} else {
		checks = append(checks, checkResult{
			Name: "BEDROCK_MODEL_ID", Status: "pass", Message: model,
		})
	}

	if path, err := exec.LookPath(agentPath); err != nil {
		checks = append(checks, checkResult{
			Name: "agent binary", Status: "fail",
			Message: fmt.Sprintf("%s not found on PATH", agentPath),
			Fix:     "install the claude CLI or set agent.path in .bcce.yaml",
		})
	} else {
		checks = append(checks, checkResult{
			Name: "agent binary", Status: "pass", Message: path,
		})
	}

	if region != "" {
		checks = append(checks, checkBedrockDNS(ctx, region))
	}

	checks = append(checks, checkMemory(ctx), checkDisk(ctx))
	return checks
}

// checkBedrockDNS verifies the Bedrock runtime endpoint resolves. The
// probe is DNS-only so it works behind egress-restricted networks.
func checkBedrockDNS(ctx context.Context, region string) checkResult {
	host := fmt.Sprintf("bedrock-runtime.%s.amazonaws.com", region)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
		return checkResult{
			Name: "Bedrock runtime DNS", Status: "fail",
			Message: fmt.Sprintf("failed to resolve %s: %v", host, err),
			Fix:     "check internet connectivity and DNS settings",
		}
	}
	return checkResult{
		Name: "Bedrock runtime DNS", Status: "pass",
		Message: "resolved " + host,
	}
}

func checkMemory(ctx context.Context) checkResult {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return checkResult{Name: "memory", Status: "warn",
			Message: fmt.Sprintf("could not read memory stats: %v", err)}
	}
	availGB := float64(vm.Available) / (1 << 30)
	if availGB < 1 {
		return checkResult{Name: "memory", Status: "warn",
			Message: fmt.Sprintf("%.1f GB available; agent runs may be slow", availGB)}
	}
	return checkResult{Name: "memory", Status: "pass",
		Message: fmt.Sprintf("%.1f GB available", availGB)}
}

func checkDisk(ctx context.Context) checkResult {
	usage, err := disk.UsageWithContext(ctx, ".")
	if err != nil {
		return checkResult{Name: "disk", Status: "warn",
			Message: fmt.Sprintf("could not read disk stats: %v", err)}
	}
	freeGB := float64(usage.Free) / (1 << 30)
	if freeGB < 1 {
		return checkResult{Name: "disk", Status: "warn",
			Message: fmt.Sprintf("%.1f GB free; artifacts may fill the disk", freeGB)}
	}
	return checkResult{Name: "disk", Status: "pass",
		Message: fmt.Sprintf("%.1f GB free", freeGB)}
}

func printChecks(cmd *cobra.Command, checks []checkResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Checking environment...")
	fmt.Fprintln(out)
	for _, c := range checks {
		icon := "✓"
		switch c.Status {
		case "warn":
			icon = "⚠"
		case "fail":
			icon = "✗"
		}
		fmt.Fprintf(out, "  %s %s: %s\n", icon, c.Name, c.Message)
		if c.Fix != "" {
			fmt.Fprintf(out, "      fix: %s\n", c.Fix)
		}
	}
	fmt.Fprintln(out)
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(doctorCmd)
}
