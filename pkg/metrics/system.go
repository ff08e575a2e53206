// Copyright 2025 The Zen Pipeline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemSampler reports host CPU and memory pressure. The strategy engine
// consults it before applying a reorder so a saturated node never takes on
// extra bookkeeping.
type SystemSampler struct {
	mu            sync.Mutex
	lastCPUStats  *cpu.TimesStat
	lastCheckTime time.Time
}

// NewSystemSampler creates a sampler seeded at the current time
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{lastCheckTime: time.Now()}
}

// CPUUsagePercent returns CPU usage since the previous call, in [0,100].
// The first call returns 0 while the baseline is captured.
func (s *SystemSampler) CPUUsagePercent() float64 {
	now := time.Now()

	current, err := cpu.Times(false)
	if err != nil || len(current) == 0 {
		return 0.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastCPUStats != nil {
		totalBefore := s.lastCPUStats.User + s.lastCPUStats.System + s.lastCPUStats.Idle
		totalCurrent := current[0].User + current[0].System + current[0].Idle

		totalDiff := totalCurrent - totalBefore
		idleDiff := current[0].Idle - s.lastCPUStats.Idle

		if totalDiff > 0 {
			usage := (1 - idleDiff/totalDiff) * 100
			if usage < 0 {
				usage = 0
			}
			if usage > 100 {
				usage = 100
			}
			s.lastCPUStats = &current[0]
			s.lastCheckTime = now
			return usage
		}
	}

	s.lastCPUStats = &current[0]
	s.lastCheckTime = now
	return 0.0
}

// MemoryUsagePercent returns host memory utilization in [0,100], falling
// back to the Go heap share when the host stats are unavailable
func (s *SystemSampler) MemoryUsagePercent() float64 {
	vm, err := mem.VirtualMemory()
	if err == nil && vm != nil {
		return vm.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return 0.0
	}
	return float64(ms.HeapAlloc) / float64(ms.Sys) * 100
}
