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
	"time"

	"github.com/spf13/cobra"
)

func newPatternsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern", "p"},
		Short:   "Inspect and manage learned patterns",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored patterns with their confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeAll, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			pats, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return renderPatterns(a.printer, pats, a.cfg, time.Now())
		},
	}

	show := &cobra.Command{
		Use:   "show [pattern-id]",
		Short: "Show one pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeAll, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			pat, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderPattern(a.printer, pat, a.cfg, time.Now())
		},
	}

	del := &cobra.Command{
		Use:   "delete [pattern-id]",
		Short: "Delete a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeAll, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("deleted pattern " + args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
