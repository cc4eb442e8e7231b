// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package azure

import (
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/core/failure"
)

// Error codes returned with a 409 or 400 that mean the name or the
// quota is the problem, not the request.
var collisionCodes = []string{
	"QuotaExceeded",
	"OperationNotAllowed",
	"StorageAccountAlreadyTaken",
	"StorageAccountAlreadyExists",
	"VaultAlreadyExists",
	"ConflictingServerOperation",
	"AccountNameInvalid",
	"SubscriptionNotRegistered",
	"NameUnavailable",
}

// Error codes meaning the target does not exist.
var notFoundCodes = []string{
	"ResourceNotFound",
	"ResourceGroupNotFound",
	"ParentResourceNotFound",
	"DeletedVaultNotFound",
}

// classify annotates err with what and attaches the failure kind the
// lifecycle acts on. A missing resource becomes a NotFound error.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return failure.WithKind(errors.Annotate(err, what), failure.AuthError)
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		if strings.Contains(err.Error(), "DefaultAzureCredential") {
			return failure.WithKind(errors.Annotate(err, what), failure.AuthError)
		}
		return errors.Annotate(err, what)
	}

	code := respErr.ErrorCode
	switch {
	case respErr.StatusCode == http.StatusNotFound || hasCode(notFoundCodes, code):
		return errors.NewNotFound(err, what)
	case respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden:
		return failure.WithKind(errors.Annotate(err, what), failure.AuthError)
	case respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= http.StatusInternalServerError:
		return failure.WithKind(errors.Annotate(err, what), failure.TransientProviderError)
	case hasCode(collisionCodes, code) || respErr.StatusCode == http.StatusConflict:
		return failure.WithKind(errors.Annotate(err, what), failure.QuotaOrNamingCollision)
	}
	return errors.Annotate(err, what)
}

func hasCode(codes []string, code string) bool {
	for _, c := range codes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}
