// Copyright 2024 The go-xlang Authors
// This file is part of go-xlang.
//
// go-xlang is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-xlang is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-xlang. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/xlang-project/go-xlang/lang/bytecode"
)

// importCacheSize bounds the number of decoded packages kept per process.
const importCacheSize = 64

// importCache memoizes Import loads by path. Packages are immutable, so the
// same decoded instance is safely shared by every importer.
var importCache, _ = lru.New(importCacheSize)

// loadImport resolves an Import path to a decoded instruction package.
func loadImport(path string) (*bytecode.Package, error) {
	if cached, ok := importCache.Get(path); ok {
		importCacheHits.Mark(1)
		return cached.(*bytecode.Package), nil
	}
	importCacheMisses.Mark(1)

	pkg, err := bytecode.OpenMapped(path)
	if err != nil {
		return nil, fmt.Errorf("%w: import %q: %v", ErrFile, path, err)
	}
	importCache.Add(path, pkg)
	log.Debug("Imported instruction package", "path", path, "words", len(pkg.Code), "fingerprint", fmt.Sprintf("%x", pkg.Fingerprint()[:8]))
	return pkg, nil
}

// FlushImportCache drops every memoized package; tests use it to force
// reloads after rewriting files.
func FlushImportCache() {
	importCache.Purge()
}
