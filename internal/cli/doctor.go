package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/config"
	"github.com/retrosoft-labs/retrosoft/internal/supervisor"
	"github.com/retrosoft-labs/retrosoft/internal/updater"
	"github.com/retrosoft-labs/retrosoft/internal/workerdef"
	"github.com/spf13/cobra"
)

const doctorNetworkTimeout = 10 * time.Second

var doctorOffline bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "Skip the GitHub reachability check")
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Health check for the " + branding.DisplayName() + " installation",
	Long:  `Checks the config file, the worker definitions and their executables, and GitHub reachability.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		failed := 0
		count := func(ok bool) {
			if !ok {
				failed++
			}
		}

		count(checkConfigFile(out, config.FilePath()))

		defs, ok := checkWorkerDefs(out, filepath.Join(config.Dir(), workerdef.FileName))
		count(ok)
		if defs != nil {
			self, err := os.Executable()
			if err != nil {
				self = branding.CLIName()
			}
			count(checkExecutables(out, defs.Definitions(self, nil)))
		}

		if !doctorOffline {
			settings := config.Load(config.FilePath())
			count(checkGitHub(cmd.Context(), out, newUpdater(settings, logger, nil), settings.TrackedFiles))
		}

		if failed > 0 {
			return fmt.Errorf("%d check(s) failed", failed)
		}
		return nil
	},
}

func checkConfigFile(w io.Writer, path string) bool {
	fmt.Fprintf(w, "Config: %s\n", path)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "  [INFO] No config file, defaults in use")
		return true
	}
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %v\n", err)
		return false
	}
	var snap map[string]any
	if err := json.Unmarshal(data, &snap); err != nil {
		fmt.Fprintf(w, "  [FAIL] Not valid JSON: %v\n", err)
		return false
	}
	if _, err := config.Decode(snap); err != nil {
		fmt.Fprintf(w, "  [FAIL] %v\n", err)
		return false
	}
	fmt.Fprintln(w, "  [ OK ] Config parses")
	return true
}

func checkWorkerDefs(w io.Writer, path string) (*workerdef.File, bool) {
	fmt.Fprintf(w, "Worker definitions: %s\n", path)
	f, usingDefaults, err := workerdef.Load(path)
	if err != nil {
		var invalid *workerdef.InvalidError
		if errors.As(err, &invalid) {
			for _, issue := range invalid.Issues {
				fmt.Fprintf(w, "  [FAIL] %s\n", issue)
			}
		} else {
			fmt.Fprintf(w, "  [FAIL] %v\n", err)
		}
		return nil, false
	}
	if usingDefaults {
		fmt.Fprintf(w, "  [INFO] No %s, built-in definitions in use\n", workerdef.FileName)
	}
	fmt.Fprintf(w, "  [ OK ] %d worker(s) defined\n", len(f.Workers))
	return f, true
}

func checkExecutables(w io.Writer, defs []supervisor.Definition) bool {
	fmt.Fprintln(w, "Worker executables:")
	ok := true
	for _, def := range defs {
		if def.Kind != supervisor.KindProcess {
			continue
		}
		path, err := exec.LookPath(def.Command)
		if err != nil {
			fmt.Fprintf(w, "  [FAIL] %s: %s not found\n", def.Name, def.Command)
			ok = false
			continue
		}
		if def.Script != "" {
			if _, err := os.Stat(def.Script); err != nil {
				fmt.Fprintf(w, "  [FAIL] %s: script %s missing\n", def.Name, def.Script)
				ok = false
				continue
			}
		}
		fmt.Fprintf(w, "  [ OK ] %s: %s\n", def.Name, path)
	}
	return ok
}

func checkGitHub(ctx context.Context, w io.Writer, u *updater.Updater, tracked []string) bool {
	fmt.Fprintf(w, "GitHub: %s\n", u.Repo())
	if len(tracked) == 0 {
		fmt.Fprintln(w, "  [INFO] No tracked files")
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, doctorNetworkTimeout)
	defer cancel()

	c, err := u.FetchContentInfo(ctx, tracked[0])
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", tracked[0], err)
		return false
	}
	fmt.Fprintf(w, "  [ OK ] %s reachable (sha %.7s)\n", c.Path, c.SHA)
	return true
}
