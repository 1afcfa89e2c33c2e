package layer

import (
	"fmt"
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// Device describes the hardware the layers run on.
type Device interface {
	// Workers is the number of goroutines worth running in parallel.
	Workers() int
	String() string
}

// CPUDevice handles computations on the host CPU.
type CPUDevice struct{}

// Workers returns the physical core count, falling back to the logical
// count when the CPU cannot be identified.
func (d *CPUDevice) Workers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func (d *CPUDevice) String() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return fmt.Sprintf("%s, %d workers, avx2=%t fma=%t",
		brand, d.Workers(), cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.FMA3))
}

// GetDefaultDevice returns the best available device for the current platform.
func GetDefaultDevice() Device {
	return &CPUDevice{}
}
