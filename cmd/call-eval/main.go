package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/call-eval/internal/config"
)

const defaultSuitesDir = "suites"

type cliState struct {
	configPath string
	cfg        *config.Config
}

var (
	osExit                 = os.Exit
	stderrWriter io.Writer = os.Stderr
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errTestsFailed) {
			osExit(1)
			return
		}
		fmt.Fprintln(stderrWriter, err)
		osExit(1)
	}
}

func newRootCmd() *cobra.Command {
	st := &cliState{configPath: config.DefaultPath}

	root := &cobra.Command{
		Use:           "call-eval",
		Short:         "Simulate and evaluate phone conversations against an agent",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", st.configPath, "path to config file")

	root.AddCommand(newRunCmd(st))
	root.AddCommand(newListCmd())
	root.AddCommand(newHistoryCmd(st))
	root.AddCommand(newShowCmd(st))
	return root
}

// loadCfg reads the config file when present and otherwise falls back to
// defaults plus environment credentials.
func loadCfg(st *cliState) error {
	if _, err := os.Stat(st.configPath); err != nil {
		if os.IsNotExist(err) && st.configPath == config.DefaultPath {
			st.cfg = config.Default()
			return nil
		}
		return fmt.Errorf("config: stat %q: %w", st.configPath, err)
	}
	cfg, err := config.Load(st.configPath)
	if err != nil {
		return err
	}
	st.cfg = cfg
	return nil
}
