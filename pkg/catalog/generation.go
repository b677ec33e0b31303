/*
Copyright 2024 The Relstore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"relstore/internal/storeerr"
)

// formatVersion is the on-disk layout version for a database
// directory. It is written once when the directory is created and
// checked on every open, the same write-once/verify-on-open contract
// the teacher's blobserver/local.Generationer uses for its
// GENERATION.dat stamp — but here the stamp pins a format version
// instead of an opaque random client-cache key, since this store has
// no remote client to compare against.
const formatVersion = 1

func stampFile(dir string) string { return filepath.Join(dir, "FORMAT.dat") }

// writeFormatStamp creates the format stamp for a brand-new database
// directory. It fails if a stamp already exists.
func writeFormatStamp(dir string) error {
	f, err := os.OpenFile(stampFile(dir), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "writing format stamp", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", formatVersion)
	if err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "writing format stamp", err)
	}
	return f.Sync()
}

// checkFormatStamp verifies an existing database directory's stamp
// matches the version this build understands.
func checkFormatStamp(dir string) error {
	data, err := os.ReadFile(stampFile(dir))
	if err != nil {
		return storeerr.New(storeerr.IOError, "catalog", "reading format stamp", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return storeerr.New(storeerr.CorruptData, "catalog", "malformed format stamp", err)
	}
	if v != formatVersion {
		return storeerr.New(storeerr.CorruptData, "catalog", fmt.Sprintf("format version %d, this build understands %d", v, formatVersion), nil)
	}
	return nil
}
