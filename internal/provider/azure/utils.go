// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

func toValue[T any](v *T) T {
	if v == nil {
		var zero T
		return zero
	}
	return *v
}

func toTags(tags map[string]*string) map[string]string {
	if tags == nil {
		return nil
	}
	result := make(map[string]string, len(tags))
	for k, v := range tags {
		result[k] = toValue(v)
	}
	return result
}

func toTagPtrs(tags map[string]string) map[string]*string {
	result := make(map[string]*string, len(tags))
	for k, v := range tags {
		result[k] = to.Ptr(v)
	}
	return result
}
