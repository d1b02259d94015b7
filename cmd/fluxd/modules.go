// File: cmd/fluxd/modules.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/momentics/fluxd/internal/jsoncodec"
	"github.com/momentics/fluxd/module"
	"github.com/momentics/fluxd/server"
)

type candidate struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind string `json:"kind"`
}

func newModulesCommand() *cobra.Command {
	var (
		dir    string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List plugin files the daemon would load",
		Long: `List the .so plugins and plugin executables found in the modules
directory, in the order the daemon loads them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("dir") {
				cfg, err := server.LoadConfig()
				if err != nil {
					return err
				}
				dir = cfg.ModulesDir
			}
			paths, err := module.ScanDir(dir)
			if err != nil {
				return err
			}
			list := make([]candidate, len(paths))
			for i, p := range paths {
				list[i] = candidate{Name: pluginName(p), Path: p, Kind: "remote"}
				if filepath.Ext(p) == ".so" {
					list[i].Kind = "native"
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				b, err := jsoncodec.MarshalIndent(list, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%s\n", b)
				return err
			}
			if len(list) == 0 {
				_, err := fmt.Fprintf(out, "no plugins in %s\n", dir)
				return err
			}
			for _, c := range list {
				if _, err := fmt.Fprintf(out, "%-24s %-7s %s\n", c.Name, c.Kind, c.Path); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", module.DefaultModulesDir, "modules directory to scan")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func pluginName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
