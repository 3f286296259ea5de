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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/negentropy/config"
	"github.com/AleutianAI/negentropy/storage"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		if !cfg.UsePostgres() {
			return fmt.Errorf("DATABASE_URL is not set; nothing to migrate")
		}
		if migrateDown {
			if err := storage.MigrateDown(cfg.Database.URL); err != nil {
				return fmt.Errorf("rolling back migration: %w", err)
			}
			fmt.Println("rolled back one migration")
			return nil
		}
		if err := storage.Migrate(cfg.Database.URL); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration")
}
