// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/relay-tui/internal/model"
	"github.com/jeranaias/relay-tui/internal/util"
)

// machineIDFile is the filename under the data directory holding this
// machine's stable identifier.
const machineIDFile = "machine_id"

// LoadMachine returns this machine's identity, generating and persisting a
// new id on first run. The id is written atomically so a crash cannot leave
// a half-written identity that would fork the machine's history.
func LoadMachine(dataDir string) (model.Machine, error) {
	path := filepath.Join(dataDir, machineIDFile)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return model.Machine{ID: id, Hostname: hostname}, nil
		}
	} else if !os.IsNotExist(err) {
		return model.Machine{}, fmt.Errorf("failed to read machine id: %w", err)
	}

	id := uuid.NewString()
	if err := util.AtomicWriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return model.Machine{}, fmt.Errorf("failed to persist machine id: %w", err)
	}
	return model.Machine{ID: id, Hostname: hostname}, nil
}
