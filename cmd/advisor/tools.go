// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAdvisor/pkg/ux"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/tools"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/workspace"
)

func newToolsCmd(a *app) *cobra.Command {
	var (
		local     bool
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the advisor can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var specs []datatypes.ToolSpec
			if local {
				s, err := localCatalog()
				if err != nil {
					return err
				}
				specs = s
			} else {
				if serverURL == "" {
					serverURL = a.cfg.Client.ServerURL
				}
				s, err := NewClient(serverURL, a.cfg.Server.AuthToken).Tools(cmd.Context())
				if err != nil {
					return err
				}
				specs = s
			}
			out := cmd.OutOrStdout()
			return renderTools(out, a.level(out), specs)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "list the built-in catalog without contacting the service")
	cmd.Flags().StringVar(&serverURL, "server", "", "service URL (overrides the config file)")
	return cmd
}

// localCatalog registers the built-in tools against a throwaway store.
func localCatalog() ([]datatypes.ToolSpec, error) {
	reg := tools.NewRegistry()
	if err := tools.RegisterDefaults(reg, tools.Deps{Store: workspace.NewMemoryStore()}); err != nil {
		return nil, err
	}
	return reg.Specs(), nil
}

func renderTools(w io.Writer, level ux.PersonalityLevel, specs []datatypes.ToolSpec) error {
	if level == ux.PersonalityMachine {
		for _, s := range specs {
			if _, err := fmt.Fprintf(w, "tool\t%s\t%s\t%s\t%s\n",
				s.Name, s.Intent, strings.Join(toolFlags(s), ","), strings.Join(paramNames(s), ",")); err != nil {
				return err
			}
		}
		return nil
	}

	t := table.New().Headers("Tool", "Intent", "Flags", "Params", "Description")
	if level == ux.PersonalityFull {
		t = t.Border(lipgloss.RoundedBorder()).BorderStyle(lipgloss.NewStyle().Foreground(ux.ColorTealDeep))
	} else {
		t = t.Border(lipgloss.NormalBorder())
	}
	for _, s := range specs {
		t = t.Row(s.Name, string(s.Intent), strings.Join(toolFlags(s), " "), strings.Join(paramNames(s), " "), s.Description)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", t.String(),
		ux.Styled(ux.Styles.Muted, strconv.Itoa(len(specs))+" tools", level))
	return err
}

func toolFlags(s datatypes.ToolSpec) []string {
	var flags []string
	if s.Mutating {
		flags = append(flags, "mutating")
	}
	if s.RequiresConfirmation {
		flags = append(flags, "confirm")
	}
	if s.Undoable {
		flags = append(flags, "undo")
	}
	return flags
}

// paramNames lists parameter names, marking required ones with a star.
func paramNames(s datatypes.ToolSpec) []string {
	names := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		if p.Required {
			names = append(names, p.Name+"*")
		} else {
			names = append(names, p.Name)
		}
	}
	return names
}
