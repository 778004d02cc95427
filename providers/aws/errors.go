package aws

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	apperrors "github.com/slipway-io/slipway/internal/errors"
)

// classify translates SDK failures into engine error kinds. Throttling
// and availability blips become transient so the probe retry loop keeps
// going; everything else is a provider rejection.
func classify(service, operation string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		msg := fmt.Sprintf("%s %s", service, operation)
		if transientCode(apiErr.ErrorCode()) {
			return apperrors.Wrap(err, apperrors.CodeTransientProbe, msg)
		}
		return apperrors.Wrap(err, apperrors.CodeProviderRejected, msg)
	}
	return fmt.Errorf("%s %s: %w", service, operation, err)
}

func transientCode(code string) bool {
	switch code {
	case "Throttling", "ThrottlingException", "TooManyRequestsException",
		"RequestLimitExceeded", "RequestThrottled", "SlowDown",
		"ServiceUnavailable", "ServiceUnavailableException",
		"InternalFailure", "InternalServerError", "InternalError",
		"RequestTimeout", "RequestTimeoutException":
		return true
	}
	return false
}
