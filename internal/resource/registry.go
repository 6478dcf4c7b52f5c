// Package resource provides the registry of known HPC clusters the
// bookkeeper resolves a campaign's target resource name against.
package resource

import (
	"fmt"

	"github.com/simonsobs/socm/internal/model"
)

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

func newTiger3() *model.Resource {
	return &model.Resource{
		Name:            "tiger3",
		NodeCount:       492,
		CoresPerNode:    112,
		MemoryPerNodeMB: 1000000,
		QoS: []model.QoSPolicy{
			{Name: "test", MaxWalltimeMinutes: ptrFloat(60), MaxConcurrentJobs: ptrInt(1), MaxCores: ptrInt(8000)},
			{Name: "vshort", MaxWalltimeMinutes: ptrFloat(300), MaxConcurrentJobs: ptrInt(2000), MaxCores: ptrInt(55104)},
			{Name: "short", MaxWalltimeMinutes: ptrFloat(1440), MaxConcurrentJobs: ptrInt(50), MaxCores: ptrInt(8000)},
			{Name: "medium", MaxWalltimeMinutes: ptrFloat(4320), MaxConcurrentJobs: ptrInt(80), MaxCores: ptrInt(4000)},
			{Name: "long", MaxWalltimeMinutes: ptrFloat(8640), MaxConcurrentJobs: ptrInt(16), MaxCores: ptrInt(1000)},
			{Name: "vlong", MaxWalltimeMinutes: ptrFloat(21600), MaxConcurrentJobs: ptrInt(8), MaxCores: ptrInt(900)},
		},
	}
}

func newPerlmutter() *model.Resource {
	return &model.Resource{
		Name:            "perlmutter",
		NodeCount:       3072,
		CoresPerNode:    128,
		MemoryPerNodeMB: 1000000,
		QoS: []model.QoSPolicy{
			{Name: "regular", MaxWalltimeMinutes: ptrFloat(2880), MaxConcurrentJobs: ptrInt(5000), MaxCores: ptrInt(393216)},
			{Name: "interactive", MaxWalltimeMinutes: ptrFloat(240), MaxConcurrentJobs: ptrInt(2), MaxCores: ptrInt(512)},
			{Name: "shared_interactive", MaxWalltimeMinutes: ptrFloat(240), MaxConcurrentJobs: ptrInt(2), MaxCores: ptrInt(64)},
			{Name: "debug", MaxWalltimeMinutes: ptrFloat(30), MaxConcurrentJobs: ptrInt(5), MaxCores: ptrInt(1024)},
		},
	}
}

func newUniverse() *model.Resource {
	return &model.Resource{
		Name:            "universe",
		NodeCount:       28,
		CoresPerNode:    224,
		MemoryPerNodeMB: 1000000,
		QoS: []model.QoSPolicy{
			{Name: "main", MaxWalltimeMinutes: ptrFloat(43200), MaxConcurrentJobs: ptrInt(5000), MaxCores: ptrInt(6272)},
		},
	}
}

// Registry maps resource names to constructors.
var Registry = map[string]func() *model.Resource{
	"tiger3":     newTiger3,
	"perlmutter": newPerlmutter,
	"universe":   newUniverse,
}

// Resolve looks up a resource by name, as the bookkeeper does against its
// registry of known resources at initialization.
func Resolve(name string) (*model.Resource, error) {
	ctor, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("resource %q is not registered", name)
	}
	return ctor(), nil
}
