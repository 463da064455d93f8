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

import "github.com/ethereum/go-ethereum/metrics"

var (
	stepMeter         = metrics.NewRegisteredMeter("xvm/executor/steps", nil)
	raiseMeter        = metrics.NewRegisteredMeter("xvm/executor/raises", nil)
	spawnedMeter      = metrics.NewRegisteredMeter("xvm/pool/spawned", nil)
	reapedMeter       = metrics.NewRegisteredMeter("xvm/pool/reaped", nil)
	crashedMeter      = metrics.NewRegisteredMeter("xvm/pool/crashed", nil)
	gcCyclesMeter     = metrics.NewRegisteredMeter("xvm/gc/cycles", nil)
	gcCollectedMeter  = metrics.NewRegisteredMeter("xvm/gc/collected", nil)
	heapObjectsGauge  = metrics.NewRegisteredGauge("xvm/heap/objects", nil)
	importCacheHits   = metrics.NewRegisteredMeter("xvm/import/cache/hits", nil)
	importCacheMisses = metrics.NewRegisteredMeter("xvm/import/cache/misses", nil)
)
