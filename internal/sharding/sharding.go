// Package sharding splits the exchange list across collector instances.
package sharding

import "fmt"

// Validate rejects impossible shard coordinates before any scheduling
// begins.
func Validate(instanceID, totalInstances int) error {
	if totalInstances <= 0 {
		return fmt.Errorf("total instances must be positive, got %d", totalInstances)
	}
	if instanceID < 0 || instanceID >= totalInstances {
		return fmt.Errorf("instance id %d out of range [0, %d)", instanceID, totalInstances)
	}
	return nil
}

// Slice returns this instance's share of an already-sorted list: every
// totalInstances-th element starting at instanceID. All instances
// slicing the same list cover it exactly once.
func Slice[T any](sorted []T, instanceID, totalInstances int) []T {
	var out []T
	for i := instanceID; i < len(sorted); i += totalInstances {
		out = append(out, sorted[i])
	}
	return out
}
