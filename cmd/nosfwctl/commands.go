package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"nithronos/device/nosfw/internal/firmware"
)

func client() *APIClient { return newAPIClient(baseURL, user, password) }

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().status()
			if err != nil {
				return err
			}
			if outputJSON {
				printJSON(st)
				return nil
			}
			conn, _ := st["connectivity"].(map[string]any)
			fw, _ := st["firmware"].(map[string]any)
			fmt.Printf("Device Status\n")
			fmt.Printf("=============\n")
			fmt.Printf("Device:      %v\n", st["device"])
			fmt.Printf("Version:     %v\n", st["version"])
			fmt.Printf("Provisioned: %v\n", provisionedMark(st["provisioned"]))
			fmt.Printf("Network:     %s %v %v\n", modeColor(conn["mode"]), conn["target"], conn["address"])
			fmt.Printf("Update:      %v\n", fw["status"])
			if running, ok := fw["running"].(map[string]any); ok {
				fmt.Printf("Running:     slot %v %v\n", running["slot"], running["label"])
			}
			if last, ok := fw["last"].(map[string]any); ok {
				fmt.Printf("Last update: %v %v\n", last["status"], last["reason"])
			}
			return nil
		},
	}
}

func provisionedMark(v any) string {
	if b, _ := v.(bool); b {
		return color.GreenString("✓ yes")
	}
	return color.YellowString("✗ no")
}

func modeColor(v any) string {
	mode := fmt.Sprint(v)
	switch mode {
	case "station":
		return color.GreenString(mode)
	case "fallback_ap":
		return color.YellowString(mode)
	}
	return color.RedString(mode)
}

func newSetupCmd() *cobra.Command {
	var newUser, newPass, confirm string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Set the admin credential",
		Long: `Set the admin credential on an unprovisioned device, or change it on a
provisioned one (then --user/--password must carry the current credential).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if newPass == "" {
				return fmt.Errorf("--new-password is required")
			}
			if confirm == "" {
				confirm = newPass
			}
			if err := client().setup(newUser, newPass, confirm); err != nil {
				return err
			}
			color.Green("✓ Admin credential set")
			return nil
		},
	}
	cmd.Flags().StringVar(&newUser, "new-user", "admin", "admin user to create")
	cmd.Flags().StringVar(&newPass, "new-password", "", "new admin password (at least 8 characters)")
	cmd.Flags().StringVar(&confirm, "confirm", "", "repeat the new password (defaults to --new-password)")
	return cmd
}

var boolConfigKeys = map[string]bool{"fallbackEnabled": true, "accessProtected": true}

// parseAssignments turns key=value arguments into a config patch.
func parseAssignments(args []string) (map[string]any, error) {
	patch := map[string]any{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		if boolConfigKeys[k] {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			patch[k] = b
			continue
		}
		patch[k] = v
	}
	return patch, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or change the device configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Show the configuration (secrets redacted)",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := client().getConfig()
				if err != nil {
					return err
				}
				printJSON(cfg)
				return nil
			},
		},
		&cobra.Command{
			Use:     "set key=value...",
			Short:   "Change configuration fields",
			Example: "  nosfwctl config set managedNetworkId=home managedNetworkSecret=wifipass1",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				patch, err := parseAssignments(args)
				if err != nil {
					return err
				}
				out, err := client().setConfig(patch)
				if err != nil {
					return err
				}
				if outputJSON {
					printJSON(out)
					return nil
				}
				color.Green("✓ Configuration saved")
				if restart, _ := out["restartRequired"].(bool); restart {
					color.Yellow("Network settings changed; run `nosfwctl reboot` to apply them")
				}
				return nil
			},
		},
	)
	return cmd
}

func newRebootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reboot",
		Short: "Restart the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().reboot(); err != nil {
				return err
			}
			color.Yellow("Device is restarting")
			return nil
		},
	}
}

func newFlashCmd() *cobra.Command {
	var label string
	var noDigest bool
	cmd := &cobra.Command{
		Use:   "flash <image>",
		Short: "Upload a firmware image",
		Long: `Upload a firmware image into the inactive slot. The device verifies the
image, switches the boot pointer and restarts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			fi, err := f.Stat()
			if err != nil {
				return err
			}

			var digest string
			if !noDigest {
				if digest, err = firmware.Digest(f); err != nil {
					return fmt.Errorf("digest %s: %w", path, err)
				}
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					return err
				}
			}
			if label == "" {
				label = filepath.Base(path)
			}

			bar := progressbar.DefaultBytes(fi.Size(), "Uploading "+label)
			rd := progressbar.NewReader(f, bar)
			out, err := client().flash(&rd, fi.Size(), label, digest)
			_ = bar.Finish()
			if err != nil {
				color.Red("✗ Update failed")
				return err
			}
			if outputJSON {
				printJSON(out)
				return nil
			}
			color.Green("✓ Firmware committed; device is restarting")
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "image label (defaults to the file name)")
	cmd.Flags().BoolVar(&noDigest, "no-digest", false, "skip sending the image digest")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nosfwctl %s\n", Version)
		},
	}
}
