// Package profile provides runtime profiling helpers for the content node
// daemon.
package profile

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/anthonymartin/audius-protocol/persist"

	"github.com/NebulousLabs/errors"
)

// Only one cpu profile and one heap snapshot may run at a time.
var (
	cpuActive bool
	cpuLock   sync.Mutex
)

// StartCPUProfile begins writing a cpu profile into profileDir. It fails if
// a profile is already being collected.
func StartCPUProfile(profileDir, identifier string) error {
	cpuLock.Lock()
	defer cpuLock.Unlock()
	if cpuActive {
		return errors.New("a cpu profile is already being collected")
	}

	profileFile, err := os.Create(filepath.Join(profileDir, "cpu-"+identifier+"-"+time.Now().Format(time.RFC3339Nano)+".prof"))
	if err != nil {
		return err
	}
	if err := pprof.StartCPUProfile(profileFile); err != nil {
		return errors.Compose(err, profileFile.Close())
	}
	cpuActive = true
	return nil
}

// StopCPUProfile stops an active cpu profile.
func StopCPUProfile() {
	cpuLock.Lock()
	defer cpuLock.Unlock()
	if cpuActive {
		pprof.StopCPUProfile()
		cpuActive = false
	}
}

// SaveMemProfile writes a heap snapshot into profileDir.
func SaveMemProfile(profileDir, identifier string) error {
	profileFile, err := os.Create(filepath.Join(profileDir, "mem-"+identifier+"-"+time.Now().Format(time.RFC3339Nano)+".prof"))
	if err != nil {
		return err
	}
	defer profileFile.Close()
	return pprof.WriteHeapProfile(profileFile)
}

// StartContinuousProfile starts a background thread that logs goroutine and
// memory statistics into profileDir. The interval between samples grows
// exponentially so the log stays small on long-running nodes.
func StartContinuousProfile(profileDir string) error {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return err
	}
	log, err := persist.NewFileLogger(filepath.Join(profileDir, "profile.log"))
	if err != nil {
		return err
	}

	go func() {
		sleepTime := 3 * time.Second
		for {
			time.Sleep(sleepTime)
			sleepTime = time.Duration(1.5 * float64(sleepTime))
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			log.Printf("goroutines: %v, alloc: %v, totalAlloc: %v, heapAlloc: %v, heapSys: %v",
				runtime.NumGoroutine(), m.Alloc, m.TotalAlloc, m.HeapAlloc, m.HeapSys)
		}
	}()
	return nil
}
