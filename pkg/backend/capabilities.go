/*
 * Copyright 2026 Printmux Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backend

import "github.com/printmux/printmux/pkg/models"

// Capability names one operation group a backend can serve.
type Capability string

const (
	CapabilityStatus        Capability = "status"
	CapabilityJobControl    Capability = "job-control"
	CapabilityMaterialSlots Capability = "material-slots"
	CapabilityThumbnails    Capability = "thumbnails"
	CapabilityCameraStream  Capability = "camera-stream"
)

// Capabilities is the static descriptor a backend variant advertises:
// its feature set and its request concurrency class. Dispatch decisions
// are a lookup over these descriptors, never runtime type inspection.
type Capabilities struct {
	Family   models.ProtocolFamily `json:"family"`
	Features []Capability          `json:"features"`

	// MaxConcurrentRequests bounds expensive auxiliary requests per
	// context. Legacy backends share a single channel, so overlapping
	// requests corrupt protocol state; they are pinned to 1.
	MaxConcurrentRequests int `json:"max_concurrent_requests"`
}

// Has reports whether the descriptor includes the capability.
func (c Capabilities) Has(capability Capability) bool {
	for _, f := range c.Features {
		if f == capability {
			return true
		}
	}

	return false
}

// CapabilitiesForFamily returns the fixed descriptor for a protocol
// family. Unknown families get the legacy descriptor, the most
// conservative one.
func CapabilitiesForFamily(family models.ProtocolFamily) Capabilities {
	switch family {
	case models.FamilyDual:
		return Capabilities{
			Family: models.FamilyDual,
			Features: []Capability{
				CapabilityStatus,
				CapabilityJobControl,
				CapabilityThumbnails,
				CapabilityCameraStream,
			},
			MaxConcurrentRequests: 4,
		}
	case models.FamilyMultiMaterial:
		return Capabilities{
			Family: models.FamilyMultiMaterial,
			Features: []Capability{
				CapabilityStatus,
				CapabilityJobControl,
				CapabilityThumbnails,
				CapabilityCameraStream,
				CapabilityMaterialSlots,
			},
			MaxConcurrentRequests: 4,
		}
	default:
		return Capabilities{
			Family: models.FamilyLegacy,
			Features: []Capability{
				CapabilityStatus,
				CapabilityJobControl,
				CapabilityThumbnails,
			},
			MaxConcurrentRequests: 1,
		}
	}
}
