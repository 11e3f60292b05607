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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAdvisor/pkg/ux"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

type askOptions struct {
	conversationID string
	serverURL      string
	asJSON         bool
}

func newAskCmd(a *app) *cobra.Command {
	opts := askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send one message to the advisor",
		Long: `Sends a message to the running service and renders the streamed reply.
Reuse --conversation to keep context between messages, for example to answer
"yes" to a confirmation prompt or to say "undo".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverURL := opts.serverURL
			if serverURL == "" {
				serverURL = a.cfg.Client.ServerURL
			}
			client := NewClient(serverURL, a.cfg.Server.AuthToken)
			out := cmd.OutOrStdout()
			return runAsk(cmd.Context(), client, out, a.level(out), opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&opts.conversationID, "conversation", "c", "", "conversation id (default: a new conversation)")
	cmd.Flags().StringVar(&opts.serverURL, "server", "", "service URL (overrides the config file)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "request a single JSON response instead of a stream")
	return cmd
}

func runAsk(ctx context.Context, client *Client, out io.Writer, level ux.PersonalityLevel, opts askOptions, message string) error {
	if opts.conversationID == "" {
		opts.conversationID = uuid.NewString()
	}
	req := datatypes.CommandRequest{Message: message, ConversationID: opts.conversationID}

	if opts.asJSON {
		resp, err := client.Command(ctx, req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	renderer := ux.NewRenderer(out, level)
	var conversationID string
	var streamErr string
	err := client.Stream(ctx, req, func(ev datatypes.StreamEvent) error {
		switch ev.Type {
		case datatypes.EventDone:
			conversationID = ev.ConversationID
		case datatypes.EventError:
			streamErr = ev.Error
		}
		return renderer.Render(ev)
	})
	if err != nil {
		return err
	}
	if streamErr != "" {
		return fmt.Errorf("the command failed: %s", streamErr)
	}
	if level != ux.PersonalityMachine && conversationID != "" {
		_, err = fmt.Fprintln(out, ux.Styled(ux.Styles.Muted, fmt.Sprintf("Continue with --conversation %s", conversationID), level))
	}
	return err
}
