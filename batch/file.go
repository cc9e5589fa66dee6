// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile writes the batch to path.  The file is written next to path
// first and renamed, so an interrupted write never leaves a truncated batch.
func (b *Batch) WriteFile(path string) error {
	if b.Txs == nil {
		b.Txs = []*Transaction{}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	log.Infof("Saved batch of %d transactions to %s", len(b.Txs), path)
	return nil
}

// ReadFile reads a batch from path.  The header is not checked; see
// Validate.
func ReadFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid batch file %s: %w", path, err)
	}
	return &b, nil
}
