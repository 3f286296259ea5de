// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotenv layers dotenv files for the given environment name. Files
// are applied lowest precedence first; later files override earlier ones,
// and real environment variables override all files:
//
//	.env < .env.local < .env.{env} < .env.{env}.local
//
// Missing files are skipped silently. Variables already present in the
// process environment are never overwritten.
func LoadDotenv(env string) {
	paths := []string{
		".env",
		".env.local",
		fmt.Sprintf(".env.%s", env),
		fmt.Sprintf(".env.%s.local", env),
	}

	// godotenv.Load never overrides existing vars, so applying highest
	// precedence first gives the layering above.
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err != nil {
			continue
		}
		_ = godotenv.Load(paths[i])
	}
}
